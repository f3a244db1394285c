package confirm

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/khoanguyen-dev/mai/internal/protocol"
)

// Kind distinguishes which pipeline parked the confirmation.
type Kind string

const (
	KindConversational Kind = "conversational"
	KindTaskOperation  Kind = "task_operation"
)

// Subtype enumerates what the clarification is about.
type Subtype string

const (
	SubtypeSchedulingDetails  Subtype = "scheduling_details"
	SubtypeTaskClarification  Subtype = "task_clarification"
	SubtypeTimeConflict       Subtype = "time_conflict"
	SubtypeTaskSelection      Subtype = "task_selection"
	SubtypeUpdateDetails      Subtype = "update_details"
	SubtypeDeleteConfirmation Subtype = "delete_confirmation"
)

// Pending is an outstanding clarification request blocking finalization of
// a structured result. Exactly one of Conversation or Operation is set,
// matching Kind.
type Pending struct {
	Kind          Kind
	Subtype       Subtype
	OriginalInput string
	Conversation  *protocol.ConversationResult
	Operation     *protocol.OperationResult
	MissingInfo   []string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Store holds at most one live pending confirmation per session. Expiry is
// lazy: entries time out on read, there is no background sweep. All access
// goes through one mutex so a read-then-delete is a single step; go-cache's
// own locking covers individual calls but not the pairing.
type Store struct {
	ttl   time.Duration
	mu    sync.Mutex
	cache *gocache.Cache
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	// Cleanup interval 0 disables the janitor; go-cache then only checks
	// expiry on Get, which is the lazy behavior callers rely on.
	return &Store{ttl: ttl, cache: gocache.New(ttl, 0)}
}

// Put upserts the pending confirmation for a session, overwriting any
// prior one and resetting the expiry window.
func (s *Store) Put(sessionID string, p Pending) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.ExpiresAt = now.Add(s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(sessionID, p, s.ttl)
}

// Peek returns the live confirmation for a session. An expired or cleared
// entry is indistinguishable from one that never existed.
func (s *Store) Peek(sessionID string) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(sessionID)
	if !ok {
		return Pending{}, false
	}
	return v.(Pending), true
}

// Take reads and clears the confirmation in one step, so a reply can never
// be answered twice.
func (s *Store) Take(sessionID string) (Pending, bool) {
	return s.TakeIf(sessionID, func(Pending) bool { return true })
}

// TakeIf claims the pending confirmation when accept approves it, clearing
// it in the same critical section. Concurrent callers race for a single
// winner; losers observe no entry. accept must not block.
func (s *Store) TakeIf(sessionID string, accept func(Pending) bool) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(sessionID)
	if !ok {
		return Pending{}, false
	}
	p := v.(Pending)
	if !accept(p) {
		return Pending{}, false
	}
	s.cache.Delete(sessionID)
	return p, true
}

func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(sessionID)
}
