package bridge

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/resilience"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

var (
	// ErrNoBinder means no bridge is installed or running
	ErrNoBinder = errors.New("bridge socket not found")
	// ErrPermissionDenied means the bridge exists but refuses this process
	ErrPermissionDenied = errors.New("bridge permission denied")
	// ErrNotAvailable means the bridge did not answer
	ErrNotAvailable = errors.New("bridge not available")
)

// DefaultRunTimeout bounds connecting to and checking a bridge
const DefaultRunTimeout = 60 * time.Second

// Repository is the host side entry to the bridge. Every operation degrades to
// a neutral result when the bridge is missing or dies; callers never see the
// transport errors.
type Repository struct {
	dial    func() (*Client, error)
	exists  func() error
	timeout time.Duration
	logger  *logging.Logger

	mu     sync.Mutex
	client *Client
}

// NewRepository creates a repository for the bridge at socketPath
func NewRepository(socketPath string, runTimeout time.Duration, logger *logging.Logger, opts ...ClientOption) *Repository {
	logger = logger.Component("bridge.repository")
	opts = append([]ClientOption{WithLogger(logger)}, opts...)
	return newRepository(
		func() (*Client, error) { return DialSocket(socketPath, opts...) },
		func() error { return socketExists(socketPath) },
		runTimeout,
		logger,
	)
}

func newRepository(dial func() (*Client, error), exists func() error, runTimeout time.Duration, logger *logging.Logger) *Repository {
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	if exists == nil {
		exists = func() error { return nil }
	}
	return &Repository{dial: dial, exists: exists, timeout: runTimeout, logger: logger}
}

func socketExists(path string) error {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return ErrNoBinder
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	default:
		return err
	}
}

// acquire returns the cached client or connects and verifies a new one
func (r *Repository) acquire(ctx context.Context) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}
	if err := r.exists(); err != nil {
		return nil, err
	}
	client, err := r.dial()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	alive, err := client.Ping(ctx)
	if err != nil || !alive {
		_ = client.Close()
		if isPermissionDenied(err) {
			return nil, ErrPermissionDenied
		}
		return nil, ErrNotAvailable
	}
	r.client = client
	return client, nil
}

// forget drops the cached client when it is the one that failed
func (r *Repository) forget(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == client {
		_ = r.client.Close()
		r.client = nil
	}
}

func (r *Repository) cached() *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

// RunWithService connects if needed and runs fn against the bridge
func (r *Repository) RunWithService(ctx context.Context, fn func(context.Context, *Client) error) error {
	client, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	return r.run(ctx, client, fn)
}

// RunWithServiceIfAvailable runs fn only when a bridge is already connected
func (r *Repository) RunWithServiceIfAvailable(ctx context.Context, fn func(context.Context, *Client) error) error {
	client := r.cached()
	if client == nil {
		return ErrNotAvailable
	}
	return r.run(ctx, client, fn)
}

func (r *Repository) run(ctx context.Context, client *Client, fn func(context.Context, *Client) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := fn(ctx, client)
	if isRemoteDead(err) {
		r.logger.Info("Bridge went away", zap.Error(err))
		r.forget(client)
	}
	return err
}

// Run is RunWithService for calls with a result
func Run[T any](ctx context.Context, r *Repository, fn func(context.Context, *Client) (T, error)) (T, error) {
	var out T
	err := r.RunWithService(ctx, func(ctx context.Context, c *Client) error {
		var err error
		out, err = fn(ctx, c)
		return err
	})
	return out, err
}

func isRemoteDead(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, resilience.ErrCircuitOpen) ||
		errors.Is(err, resilience.ErrTooManyRequests) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENOENT) {
		return true
	}
	return status.Code(err) == codes.Unavailable
}

func isPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, syscall.EACCES) || errors.Is(err, fs.ErrPermission) {
		return true
	}
	return status.Code(err) == codes.PermissionDenied
}

func (r *Repository) logFailure(op string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrNoBinder) || errors.Is(err, ErrNotAvailable) {
		r.logger.Debug("Bridge unavailable", zap.String("op", op), zap.Error(err))
		return
	}
	r.logger.Warn("Bridge call failed", zap.String("op", op), zap.Error(err))
}

func (r *Repository) do(ctx context.Context, op string, fn func(context.Context, *Client) error) bool {
	err := r.RunWithService(ctx, fn)
	r.logFailure(op, err)
	return err == nil
}

// Available reports whether a bridge answers
func (r *Repository) Available(ctx context.Context) bool {
	_, err := r.acquire(ctx)
	return err == nil
}

// Status reports why the bridge is unusable, nil when it is usable
func (r *Repository) Status(ctx context.Context) error {
	_, err := r.acquire(ctx)
	return err
}

// Ping reports whether the bridge answers
func (r *Repository) Ping(ctx context.Context) bool {
	ok, err := Run(ctx, r, func(ctx context.Context, c *Client) (bool, error) { return c.Ping(ctx) })
	return err == nil && ok
}

// IsRoot reports whether the bridge runs as root; false without a bridge
func (r *Repository) IsRoot(ctx context.Context) bool {
	ok, err := Run(ctx, r, func(ctx context.Context, c *Client) (bool, error) { return c.IsRoot(ctx) })
	r.logFailure("IsRoot", err)
	return err == nil && ok
}

// SetSmartspaceService binds the smartspace service
func (r *Repository) SetSmartspaceService(ctx context.Context, req ServiceRequest) bool {
	return r.do(ctx, "SetSmartspaceService", func(ctx context.Context, c *Client) error {
		return c.SetSmartspaceService(ctx, req)
	})
}

// ClearSmartspaceService unbinds the smartspace service
func (r *Repository) ClearSmartspaceService(ctx context.Context, req ServiceRequest) bool {
	return r.do(ctx, "ClearSmartspaceService", func(ctx context.Context, c *Client) error {
		return c.ClearSmartspaceService(ctx, req)
	})
}

// ResetServiceIfAvailable restores the system smartspace service without
// dialing a new bridge: req.Component is bound when set, otherwise the service
// is cleared.
func (r *Repository) ResetServiceIfAvailable(ctx context.Context, req ServiceRequest) bool {
	err := r.RunWithServiceIfAvailable(ctx, func(ctx context.Context, c *Client) error {
		if req.Component != "" {
			return c.SetSmartspaceService(ctx, req)
		}
		return c.ClearSmartspaceService(ctx, req)
	})
	r.logFailure("ResetServiceIfAvailable", err)
	return err == nil
}

// CreateSmartspaceSession creates a system smartspace session
func (r *Repository) CreateSmartspaceSession(ctx context.Context, cfg types.SessionConfig) bool {
	return r.do(ctx, "CreateSmartspaceSession", func(ctx context.Context, c *Client) error {
		return c.CreateSmartspaceSession(ctx, cfg)
	})
}

// DestroySmartspaceSession destroys a system smartspace session
func (r *Repository) DestroySmartspaceSession(ctx context.Context, sessionID string) bool {
	return r.do(ctx, "DestroySmartspaceSession", func(ctx context.Context, c *Client) error {
		return c.DestroySmartspaceSession(ctx, sessionID)
	})
}

// ToggleTorch flips the flashlight
func (r *Repository) ToggleTorch(ctx context.Context) bool {
	return r.do(ctx, "ToggleTorch", func(ctx context.Context, c *Client) error { return c.ToggleTorch(ctx) })
}

// GetShortcuts lists launcher shortcuts; empty without a bridge
func (r *Repository) GetShortcuts(ctx context.Context, query ShortcutQuery) []Shortcut {
	shortcuts, err := Run(ctx, r, func(ctx context.Context, c *Client) ([]Shortcut, error) {
		return c.GetShortcuts(ctx, query)
	})
	r.logFailure("GetShortcuts", err)
	return shortcuts
}

// GetAppShortcutIcon returns a shortcut icon or nil
func (r *Repository) GetAppShortcutIcon(ctx context.Context, pkg, id string) []byte {
	icon, err := Run(ctx, r, func(ctx context.Context, c *Client) ([]byte, error) {
		return c.GetAppShortcutIcon(ctx, pkg, id)
	})
	r.logFailure("GetAppShortcutIcon", err)
	return icon
}

// StartShortcut launches a shortcut
func (r *Repository) StartShortcut(ctx context.Context, pkg, id string) bool {
	return r.do(ctx, "StartShortcut", func(ctx context.Context, c *Client) error {
		return c.StartShortcut(ctx, pkg, id)
	})
}

// ProxyContentProviderGetType resolves the type of a content uri; empty on failure
func (r *Repository) ProxyContentProviderGetType(ctx context.Context, uri string) string {
	mime, err := Run(ctx, r, func(ctx context.Context, c *Client) (string, error) {
		return c.ProxyContentProviderGetType(ctx, uri)
	})
	r.logFailure("ProxyContentProviderGetType", err)
	return mime
}

// ProxyContentProviderOpenFile reads a content uri; nil on failure
func (r *Repository) ProxyContentProviderOpenFile(ctx context.Context, uri, mode string) []byte {
	data, err := Run(ctx, r, func(ctx context.Context, c *Client) ([]byte, error) {
		return c.ProxyContentProviderOpenFile(ctx, uri, mode)
	})
	r.logFailure("ProxyContentProviderOpenFile", err)
	return data
}

// ProxyContentProviderGetStreamTypes lists the types of a content uri; nil on failure
func (r *Repository) ProxyContentProviderGetStreamTypes(ctx context.Context, uri, filter string) []string {
	mimes, err := Run(ctx, r, func(ctx context.Context, c *Client) ([]string, error) {
		return c.ProxyContentProviderGetStreamTypes(ctx, uri, filter)
	})
	r.logFailure("ProxyContentProviderGetStreamTypes", err)
	return mimes
}

// GrantRestrictedSettings grants restricted settings access to pkg
func (r *Repository) GrantRestrictedSettings(ctx context.Context, pkg string) bool {
	return r.do(ctx, "GrantRestrictedSettings", func(ctx context.Context, c *Client) error {
		return c.GrantRestrictedSettings(ctx, pkg)
	})
}

// SetPowerExemption exempts pkg from power restrictions
func (r *Repository) SetPowerExemption(ctx context.Context, pkg string) bool {
	return r.do(ctx, "SetPowerExemption", func(ctx context.Context, c *Client) error {
		return c.SetPowerExemption(ctx, pkg)
	})
}

// EnableBluetooth turns bluetooth on
func (r *Repository) EnableBluetooth(ctx context.Context) bool {
	return r.do(ctx, "EnableBluetooth", func(ctx context.Context, c *Client) error { return c.EnableBluetooth(ctx) })
}

// GetSavedWiFiNetworks lists saved networks; empty without a bridge
func (r *Repository) GetSavedWiFiNetworks(ctx context.Context) []WiFiNetwork {
	networks, err := Run(ctx, r, func(ctx context.Context, c *Client) ([]WiFiNetwork, error) {
		return c.GetSavedWiFiNetworks(ctx)
	})
	r.logFailure("GetSavedWiFiNetworks", err)
	return networks
}

// GetUserName returns a user's display name; empty without a bridge
func (r *Repository) GetUserName(ctx context.Context, userID int) string {
	name, err := Run(ctx, r, func(ctx context.Context, c *Client) (string, error) {
		return c.GetUserName(ctx, userID)
	})
	r.logFailure("GetUserName", err)
	return name
}

// DestroyAppPredictorSession ends the app prediction session if a bridge is connected
func (r *Repository) DestroyAppPredictorSession(ctx context.Context) {
	err := r.RunWithServiceIfAvailable(ctx, func(ctx context.Context, c *Client) error {
		return c.DestroyAppPredictorSession(ctx)
	})
	r.logFailure("DestroyAppPredictorSession", err)
}

// DestroyWidgetPredictorSession ends the widget prediction session if a bridge is connected
func (r *Repository) DestroyWidgetPredictorSession(ctx context.Context) {
	err := r.RunWithServiceIfAvailable(ctx, func(ctx context.Context, c *Client) error {
		return c.DestroyWidgetPredictorSession(ctx)
	})
	r.logFailure("DestroyWidgetPredictorSession", err)
}

// Destroy asks a connected bridge to exit
func (r *Repository) Destroy(ctx context.Context) {
	client := r.cached()
	if client == nil {
		return
	}
	// The bridge may exit before it answers.
	_ = client.Destroy(ctx)
	r.forget(client)
}

// stream opens a stream on the bridge. Without a bridge the returned channel
// is already closed. Streams outlive the run timeout so they do not go through run.
func stream[T any](ctx context.Context, r *Repository, op string, open func(context.Context, *Client) (<-chan T, error)) <-chan T {
	client, err := r.acquire(ctx)
	if err == nil {
		var ch <-chan T
		ch, err = open(ctx, client)
		if err == nil {
			return ch
		}
		if isRemoteDead(err) {
			r.forget(client)
		}
	}
	r.logFailure(op, err)
	closed := make(chan T)
	close(closed)
	return closed
}

// CrashEvents streams crash storms until ctx ends or the bridge dies
func (r *Repository) CrashEvents(ctx context.Context) <-chan CrashEvent {
	return stream(ctx, r, "CrashEvents", func(ctx context.Context, c *Client) (<-chan CrashEvent, error) {
		return c.CrashEvents(ctx)
	})
}

// ProcessEvents streams foreground packages until ctx ends or the bridge dies
func (r *Repository) ProcessEvents(ctx context.Context) <-chan string {
	return stream(ctx, r, "ProcessEvents", func(ctx context.Context, c *Client) (<-chan string, error) {
		return c.ProcessEvents(ctx)
	})
}

// TaskEvents streams recent task packages until ctx ends or the bridge dies
func (r *Repository) TaskEvents(ctx context.Context) <-chan []string {
	return stream(ctx, r, "TaskEvents", func(ctx context.Context, c *Client) (<-chan []string, error) {
		return c.TaskEvents(ctx)
	})
}

// AppPredictions streams app predictions until ctx ends or the bridge dies
func (r *Repository) AppPredictions(ctx context.Context) <-chan []Prediction {
	return stream(ctx, r, "AppPredictions", func(ctx context.Context, c *Client) (<-chan []Prediction, error) {
		return c.AppPredictions(ctx)
	})
}

// WidgetPredictions streams widget predictions until ctx ends or the bridge dies
func (r *Repository) WidgetPredictions(ctx context.Context, extras map[string]any) <-chan []Prediction {
	return stream(ctx, r, "WidgetPredictions", func(ctx context.Context, c *Client) (<-chan []Prediction, error) {
		return c.WidgetPredictions(ctx, extras)
	})
}
