package httpclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/resilience"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/tracing"
)

// Options configures a Client
type Options struct {
	Name      string
	Timeout   time.Duration
	Retries   int
	MinWait   time.Duration
	MaxWait   time.Duration
	RPS       float64
	UserAgent string
}

// DefaultOptions returns the options used for outbound calls to plugin
// repositories and safe-mode receivers
func DefaultOptions(name string) Options {
	return Options{
		Name:      name,
		Timeout:   15 * time.Second,
		Retries:   3,
		MinWait:   500 * time.Millisecond,
		MaxWait:   5 * time.Second,
		UserAgent: "Smartspacer/1.0",
	}
}

// Client wraps resty with rate limiting and a circuit breaker
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	mu      sync.RWMutex
}

// New creates an HTTP client. Retries happen at the transport level, the
// breaker only sees the final outcome of a request.
func New(opts Options) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = opts.MinWait
	retryClient.RetryWaitMax = opts.MaxWait
	retryClient.Logger = nil

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), max(1, int(opts.RPS)))
	}

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		breaker: resilience.New("http-"+opts.Name, resilience.RemoteSettings(nil)),
	}
}

// SetBaseURL sets the URL relative requests resolve against
func (c *Client) SetBaseURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resty.SetBaseURL(url)
}

// SetHeader adds a default header
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resty.SetHeader(key, value)
}

// Request creates a request after waiting for the rate limiter
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if c.breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	c.mu.RLock()
	req := c.resty.R().SetContext(ctx)
	c.mu.RUnlock()
	tracing.Inject(ctx, func(key, value string) { req.SetHeader(key, value) })
	return req, nil
}

// Do sends a request through the circuit breaker. Responses with a 5xx
// status count as failures.
func (c *Client) Do(ctx context.Context, build func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	return resilience.Do(ctx, c.breaker, func(ctx context.Context) (*resty.Response, error) {
		req, err := c.Request(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := build(req)
		if err != nil {
			return resp, err
		}
		if resp.StatusCode() >= 500 {
			return resp, fmt.Errorf("%s: server error %d", resp.Request.URL, resp.StatusCode())
		}
		return resp, nil
	})
}

// BreakerState returns the current circuit breaker state
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}
