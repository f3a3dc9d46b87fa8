package bridge

import (
	"context"
	"sync"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	fail     map[string]error
	out      map[string]string
}

func (r *fakeRunner) Run(_ context.Context, command string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	return r.out[command], r.fail[command]
}

func (r *fakeRunner) history() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

type fakeSession struct {
	mu        sync.Mutex
	destroyed int
}

func (s *fakeSession) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed++
	if s.destroyed > 1 {
		return ErrAlreadyDestroyed
	}
	return nil
}

type fakeProvider struct {
	mime     string
	data     []byte
	streams  []string
	opened   int
	released *int
}

func (p *fakeProvider) GetType(context.Context, string) (string, error) { return p.mime, nil }
func (p *fakeProvider) OpenFile(context.Context, string, string) ([]byte, error) {
	p.opened++
	return p.data, nil
}
func (p *fakeProvider) GetStreamTypes(_ context.Context, _ string, filter string) ([]string, error) {
	var out []string
	for _, mime := range p.streams {
		if mimeMatches(filter, mime) {
			out = append(out, mime)
		}
	}
	return out, nil
}
func (p *fakeProvider) Release() { *p.released++ }

type fakePlatform struct {
	root bool

	mu        sync.Mutex
	sessions  []types.SessionConfig
	destroyed []string
	specs     []PredictionSpec
	delivers  []func([]Prediction)
	predSess  []*fakeSession
	started   []string
	torch     int
	shortcuts []Shortcut
	iconErr   error
	provider  *fakeProvider
	authority string
	onStart   func()
}

func (p *fakePlatform) IsRoot() bool            { return p.root }
func (p *fakePlatform) KeyguardPackage() string { return SystemUIPackage }

func (p *fakePlatform) UserName(_ context.Context, userID int) (string, error) {
	if userID == 0 {
		return "Owner", nil
	}
	return "", ErrUnsupported
}

func (p *fakePlatform) CreateSmartspaceSession(_ context.Context, cfg types.SessionConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, cfg)
	return nil
}

func (p *fakePlatform) DestroySmartspaceSession(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = append(p.destroyed, id)
	return nil
}

func (p *fakePlatform) CreatePredictionSession(_ context.Context, spec PredictionSpec, deliver func([]Prediction)) (PredictionSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSession{}
	p.specs = append(p.specs, spec)
	p.delivers = append(p.delivers, deliver)
	p.predSess = append(p.predSess, s)
	return s, nil
}

func (p *fakePlatform) lastDeliver() func([]Prediction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.delivers) == 0 {
		return nil
	}
	return p.delivers[len(p.delivers)-1]
}

func (p *fakePlatform) ToggleTorch(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.torch++
	return nil
}

func (p *fakePlatform) Shortcuts(context.Context, ShortcutQuery) ([]Shortcut, error) {
	return p.shortcuts, nil
}

func (p *fakePlatform) ShortcutIcon(context.Context, string, string) ([]byte, error) {
	if p.iconErr != nil {
		return nil, p.iconErr
	}
	return []byte{1, 2, 3}, nil
}

func (p *fakePlatform) StartShortcut(_ context.Context, pkg, id string) error {
	if p.onStart != nil {
		p.onStart()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, pkg+"/"+id)
	return nil
}

func (p *fakePlatform) AcquireProvider(_ context.Context, authority string) (ContentProvider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authority = authority
	return p.provider, nil
}

type staticPIDs map[int]string

func (s staticPIDs) ProcessName(pid int) (string, error) {
	if name, ok := s[pid]; ok {
		return name, nil
	}
	return "", ErrUnsupported
}

type chanProcesses chan ProcessEvent

func (c chanProcesses) Events(context.Context) <-chan ProcessEvent { return c }

type chanTasks chan []string

func (c chanTasks) Events(context.Context) <-chan []string { return c }

type chanCrashes chan string

func (c chanCrashes) Events(context.Context) <-chan string { return c }
