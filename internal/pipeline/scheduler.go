package pipeline

import (
	"sort"
	"sync"
	"time"
)

// DefaultRefreshBuffer lets a refresh run slightly early so periodic session
// updates that land just before the period still pick it up
const DefaultRefreshBuffer = 5 * time.Second

// Candidate is an instance that may be due a refresh
type Candidate struct {
	InstanceID string
	Package    string
	Period     time.Duration
}

// UpdateScheduler decides which instances are due a refresh and records when
// they were last refreshed
type UpdateScheduler struct {
	buffer time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewUpdateScheduler creates a scheduler. A zero buffer uses DefaultRefreshBuffer.
func NewUpdateScheduler(buffer time.Duration) *UpdateScheduler {
	if buffer <= 0 {
		buffer = DefaultRefreshBuffer
	}
	return &UpdateScheduler{
		buffer: buffer,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
}

// Due filters candidates to those whose period has elapsed, groups them by
// package and marks them refreshed. Candidates without a period are never due.
func (s *UpdateScheduler) Due(candidates []Candidate) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	due := make(map[string][]string)
	seen := make(map[string]struct{})
	for _, c := range candidates {
		if c.Period == 0 {
			continue
		}
		if _, ok := seen[c.InstanceID]; ok {
			continue
		}
		seen[c.InstanceID] = struct{}{}
		if now.Sub(s.last[c.InstanceID]) < c.Period-s.buffer {
			continue
		}
		due[c.Package] = append(due[c.Package], c.InstanceID)
	}
	for _, ids := range due {
		sort.Strings(ids)
		for _, instanceID := range ids {
			s.last[instanceID] = now
		}
	}
	return due
}

// Forget drops the refresh history of an instance
func (s *UpdateScheduler) Forget(instanceID string) {
	s.mu.Lock()
	delete(s.last, instanceID)
	s.mu.Unlock()
}

// Visibility tracks which sessions are on screen. Targets count as visible
// while any session is.
type Visibility struct {
	mu       sync.Mutex
	sessions map[string]bool
	visible  bool
	onChange func(visible bool)
}

// NewVisibility creates a tracker. onChange runs whenever the aggregate flips.
func NewVisibility(onChange func(visible bool)) *Visibility {
	return &Visibility{sessions: make(map[string]bool), onChange: onChange}
}

// Set records the visibility of one session
func (v *Visibility) Set(sessionID string, visible bool) {
	v.mu.Lock()
	v.sessions[sessionID] = visible
	changed := v.recompute()
	v.mu.Unlock()
	v.fire(changed)
}

// Remove clears a destroyed session
func (v *Visibility) Remove(sessionID string) {
	v.mu.Lock()
	delete(v.sessions, sessionID)
	changed := v.recompute()
	v.mu.Unlock()
	v.fire(changed)
}

// Visible reports whether any session is visible
func (v *Visibility) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

func (v *Visibility) recompute() *bool {
	visible := false
	for _, on := range v.sessions {
		if on {
			visible = true
			break
		}
	}
	if visible == v.visible {
		return nil
	}
	v.visible = visible
	return &visible
}

func (v *Visibility) fire(changed *bool) {
	if changed != nil && v.onChange != nil {
		v.onChange(*changed)
	}
}
