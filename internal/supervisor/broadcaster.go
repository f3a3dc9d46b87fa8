package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/httpclient"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
)

// Notice tells the safe-mode receiver which package made the host give up
type Notice struct {
	CrashedPackage string    `json:"crashed_package"`
	Token          string    `json:"token"`
	IssuedAt       time.Time `json:"issued_at"`
}

// Broadcaster delivers a safe-mode notice to a receiver that outlives the host
type Broadcaster interface {
	Broadcast(ctx context.Context, notice Notice) error
}

// HTTPBroadcaster posts notices to a receiver URL
type HTTPBroadcaster struct {
	url    string
	client *httpclient.Client
}

// NewHTTPBroadcaster creates a broadcaster posting to url
func NewHTTPBroadcaster(url string) *HTTPBroadcaster {
	opts := httpclient.DefaultOptions("safe-mode")
	opts.Timeout = 5 * time.Second
	opts.Retries = 1
	return &HTTPBroadcaster{url: url, client: httpclient.New(opts)}
}

// Broadcast posts the notice as JSON
func (b *HTTPBroadcaster) Broadcast(ctx context.Context, notice Notice) error {
	resp, err := b.client.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(notice).Post(b.url)
	})
	if err != nil {
		return fmt.Errorf("failed to deliver safe mode notice: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("safe mode receiver rejected notice: %s", resp.Status())
	}
	return nil
}

// LogBroadcaster only logs the notice. It is used when no receiver is configured.
type LogBroadcaster struct {
	Logger *logging.Logger
}

func (b LogBroadcaster) Broadcast(ctx context.Context, notice Notice) error {
	b.Logger.Component("safemode").Error("Smartspacer entered safe mode",
		zap.String("crashed_package", notice.CrashedPackage),
		zap.Time("issued_at", notice.IssuedAt))
	return nil
}
