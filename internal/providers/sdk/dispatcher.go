package sdk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrSecurity is returned when the caller is not the smartspacer host
	ErrSecurity = errors.New("caller is not allowed to access this provider")
	// ErrUnknownMethod is returned for methods no handler is registered for
	ErrUnknownMethod = errors.New("unknown provider method")
)

// Endpoint is anything the host can call a provider method on
type Endpoint interface {
	Call(ctx context.Context, method, arg string, extras Bundle) (Bundle, error)
}

// HandlerFunc answers one provider method
type HandlerFunc func(ctx context.Context, arg string, extras Bundle) (Bundle, error)

// Dispatcher routes named method calls to handlers on the provider side.
// Every call is checked against the host identity before a handler runs.
type Dispatcher struct {
	host     string
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewDispatcher creates a dispatcher accepting calls from hostPackage only
func NewDispatcher(hostPackage string) *Dispatcher {
	return &Dispatcher{
		host:     hostPackage,
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers a handler, replacing any previous one for the method
func (d *Dispatcher) Handle(method string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = h
}

// Methods returns the registered method names, sorted
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	methods := make([]string, 0, len(d.handlers))
	for m := range d.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// VerifyCaller rejects every caller other than the host
func (d *Dispatcher) VerifyCaller(caller string) error {
	if caller == "" || caller != d.host {
		return fmt.Errorf("%w: %q", ErrSecurity, caller)
	}
	return nil
}

// Dispatch verifies the caller and runs the handler for method
func (d *Dispatcher) Dispatch(ctx context.Context, caller, method, arg string, extras Bundle) (Bundle, error) {
	if err := d.VerifyCaller(caller); err != nil {
		return nil, err
	}

	d.mu.RLock()
	h, ok := d.handlers[method]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	if extras == nil {
		extras = Bundle{}
	}
	result, err := h(ctx, arg, extras)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = Bundle{}
	}
	return result, nil
}

// Endpoint binds the dispatcher to a caller identity for in-process use
func (d *Dispatcher) Endpoint(caller string) Endpoint {
	return &localEndpoint{dispatcher: d, caller: caller}
}

type localEndpoint struct {
	dispatcher *Dispatcher
	caller     string
}

func (e *localEndpoint) Call(ctx context.Context, method, arg string, extras Bundle) (Bundle, error) {
	return e.dispatcher.Dispatch(ctx, e.caller, method, arg, extras)
}
