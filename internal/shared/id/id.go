// Package id provides ID generation for sessions, plugin instances and filler targets.
//
// Two formats are in use:
//   - ULIDs for surrogate session ids and request ids: k-sortable, so the
//     creation order of internal sessions can be read straight from the id
//   - UUIDs for plugin instance ids (smartspacer ids) and blank filler targets,
//     matching the ids plugins persist on their side
//
// Surrogate session ids follow the "<owner>:<ulid>" convention so the session
// multiplexer can group them by owner before pruning.
package id

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	RequestPrefix = "req"
	BackupPrefix  = "backup"

	// BlankTargetPrefix marks filler targets that only carry complications
	BlankTargetPrefix = "!blank_"

	// OwnerSeparator splits a session id into its owner and instance parts
	OwnerSeparator = ":"
)

// SessionID identifies a smartspace session
type SessionID string

// InstanceID identifies one added plugin instance (the smartspacer id)
type InstanceID string

// RequestID identifies a diagnostics API request
type RequestID string

func (id SessionID) String() string  { return string(id) }
func (id InstanceID) String() string { return string(id) }
func (id RequestID) String() string  { return string(id) }

// Owner returns the logical owner of a session id: the part before the first
// separator, or the whole id when there is none.
func (id SessionID) Owner() string {
	owner, _, _ := strings.Cut(string(id), OwnerSeparator)
	return owner
}

// Generator hands out monotonic ULIDs. Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0), now: time.Now}
}

var defaultGenerator = sync.OnceValue(NewGenerator)

// Default returns the process-wide generator
func Default() *Generator { return defaultGenerator() }

// Next returns the next ULID, ordered after every earlier one from g
func (g *Generator) Next() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateWithPrefix returns "<prefix>_<ulid>"
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return prefix + "_" + g.Next().String()
}

// NewSessionID generates a surrogate session id owned by owner.
func NewSessionID(owner string) SessionID {
	return SessionID(owner + OwnerSeparator + Default().Next().String())
}

func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewInstanceID generates a smartspacer id for a newly added plugin instance
func NewInstanceID() InstanceID {
	return InstanceID(uuid.NewString())
}

// IsInstanceID checks if a string is a well-formed smartspacer id
func IsInstanceID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// NewBlankTargetID generates the id of a filler target
func NewBlankTargetID() string {
	return BlankTargetPrefix + uuid.NewString()
}

// IsBlankTarget reports whether a target id was produced by NewBlankTargetID
func IsBlankTarget(targetID string) bool {
	return strings.HasPrefix(targetID, BlankTargetPrefix)
}

// Timestamp extracts the creation time of a ULID, with or without a prefix
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexAny(s, "_"+OwnerSeparator); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
