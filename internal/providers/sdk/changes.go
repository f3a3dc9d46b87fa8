package sdk

import (
	"strings"
	"sync"
)

const contentScheme = "content://"

// ChangeURI returns the URI a provider notifies when its data changes.
// An empty smartspacerID addresses every instance of the authority.
func ChangeURI(authority, smartspacerID string) string {
	if smartspacerID == "" {
		return contentScheme + authority
	}
	return contentScheme + authority + "/" + smartspacerID
}

// ChangeMatches reports whether a change to changed concerns an observer of
// observed. Both directions of descendancy match: an authority-wide change
// reaches instance observers, and an instance change reaches authority observers.
func ChangeMatches(observed, changed string) bool {
	if observed == changed {
		return true
	}
	return strings.HasPrefix(changed, observed+"/") || strings.HasPrefix(observed, changed+"/")
}

// ChangeBus delivers notify-change events to observers
type ChangeBus struct {
	mu        sync.RWMutex
	next      int
	observers map[int]observer
}

type observer struct {
	uri string
	ch  chan string
}

// NewChangeBus creates an empty bus
func NewChangeBus() *ChangeBus {
	return &ChangeBus{observers: make(map[int]observer)}
}

// Observe registers for changes matching uri. The returned cancel func must be
// called to release the observer; it closes the channel.
func (b *ChangeBus) Observe(uri string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan string, 1)
	b.observers[id] = observer{uri: uri, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// NotifyChange wakes every observer matching uri. Observers that already have a
// pending notification are not sent a second one.
func (b *ChangeBus) NotifyChange(uri string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, o := range b.observers {
		if !ChangeMatches(o.uri, uri) {
			continue
		}
		select {
		case o.ch <- uri:
		default:
		}
	}
}
