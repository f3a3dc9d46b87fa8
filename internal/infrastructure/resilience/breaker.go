package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State of a breaker
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Settings tunes a breaker. Zero fields take the defaults applied by New.
type Settings struct {
	// MaxRequests is both the number of trial calls admitted while half-open and
	// the number of successful trial calls needed to close again
	MaxRequests uint32
	// Interval clears the counts of a closed breaker
	Interval time.Duration
	// Timeout is how long the breaker stays open before admitting trial calls
	Timeout time.Duration
	// ReadyToTrip decides, after a failure while closed, whether to open
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful classifies a returned error. Errors it accepts do not count
	// as failures (a remote "not found" is not an outage).
	IsSuccessful func(err error) bool
	// OnStateChange observes every transition
	OnStateChange func(name string, from State, to State)
}

// Counts covers the current epoch: they reset on every transition and at
// every Interval while closed
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) succeeded() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failed() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker guards calls to a remote process that can die at any moment
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu     sync.Mutex
	state  State
	counts Counts
	epoch  uint64
	// until is when the current epoch ends; zero while half-open
	until time.Time
}

// New creates a closed breaker
func New(name string, settings Settings) *Breaker {
	return newBreaker(name, settings, time.Now)
}

func newBreaker(name string, settings Settings, now func() time.Time) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Interval <= 0 {
		settings.Interval = time.Minute
	}
	if settings.Timeout <= 0 {
		settings.Timeout = time.Minute
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts Counts) bool { return counts.ConsecutiveFailures > 5 }
	}
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool { return err == nil }
	}
	return &Breaker{
		name:     name,
		settings: settings,
		now:      now,
		until:    now().Add(settings.Interval),
	}
}

// RemoteSettings is the profile used for cross-process calls: trip after five
// consecutive failures or a majority of failures over ten requests.
func RemoteSettings(onChange func(name string, from, to State)) Settings {
	return Settings{
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			if counts.ConsecutiveFailures >= 5 {
				return true
			}
			return counts.Requests >= 10 && counts.TotalFailures*2 > counts.Requests
		},
		OnStateChange: onChange,
	}
}

func (b *Breaker) Name() string { return b.name }

// State returns the state, applying any transition that is due
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick(b.now())
	return b.state
}

// Counts returns a snapshot of the current epoch's counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs req through the breaker and returns its typed result. A context that
// is already done is reported without touching the counts. A panic in req
// counts as a failure and is re-raised.
func Do[T any](ctx context.Context, b *Breaker, req func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	ticket, err := b.admit()
	if err != nil {
		return zero, err
	}

	settled := false
	defer func() {
		if !settled {
			b.record(ticket, false)
		}
	}()

	result, err := req(ctx)
	settled = true
	b.record(ticket, b.settings.IsSuccessful(err))
	return result, err
}

// admit reserves a slot in the current epoch and returns the epoch as ticket
func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tick(b.now())
	switch {
	case b.state == StateOpen:
		return 0, ErrCircuitOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.settings.MaxRequests:
		return 0, ErrTooManyRequests
	}
	b.counts.Requests++
	return b.epoch, nil
}

// record settles an admitted call. Results from an earlier epoch are dropped.
func (b *Breaker) record(ticket uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.tick(now)
	if ticket != b.epoch {
		return
	}

	if ok {
		b.counts.succeeded()
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.MaxRequests {
			b.moveTo(StateClosed, now)
		}
		return
	}

	b.counts.failed()
	switch b.state {
	case StateClosed:
		if b.settings.ReadyToTrip(b.counts) {
			b.moveTo(StateOpen, now)
		}
	case StateHalfOpen:
		b.moveTo(StateOpen, now)
	}
}

// tick applies the time based transitions
func (b *Breaker) tick(now time.Time) {
	if b.until.IsZero() || !now.After(b.until) {
		return
	}
	switch b.state {
	case StateClosed:
		b.startEpoch(now)
	case StateOpen:
		b.moveTo(StateHalfOpen, now)
	}
}

func (b *Breaker) moveTo(state State, now time.Time) {
	if b.state == state {
		return
	}
	from := b.state
	b.state = state
	b.startEpoch(now)
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, state)
	}
}

func (b *Breaker) startEpoch(now time.Time) {
	b.epoch++
	b.counts = Counts{}
	switch b.state {
	case StateClosed:
		b.until = now.Add(b.settings.Interval)
	case StateOpen:
		b.until = now.Add(b.settings.Timeout)
	default:
		b.until = time.Time{}
	}
}
