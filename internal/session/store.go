package session

import (
	"sync"

	"github.com/khoanguyen-dev/mai/internal/brain"
)

// Store keeps a bounded per-conversation message history. The first entry
// of every history is the system instruction and is exempt from trimming.
//
// Histories live for the process lifetime. There is no eviction of idle
// sessions, so memory grows with distinct session keys; that matches the
// system this replaces and is an acknowledged limitation rather than a
// bug worth hiding behind a sweeper.
type Store struct {
	mu         sync.Mutex
	histories  map[string][]brain.ChatMessage
	maxHistory int
	keepRecent int
}

func NewStore(maxHistory, keepRecent int) *Store {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	if keepRecent <= 0 || keepRecent >= maxHistory {
		keepRecent = maxHistory - 1
	}
	return &Store{
		histories:  make(map[string][]brain.ChatMessage),
		maxHistory: maxHistory,
		keepRecent: keepRecent,
	}
}

// GetOrCreate returns a copy of the session history, seeding a new session
// with the supplied system prompt.
func (s *Store) GetOrCreate(sessionID string, systemPrompt func() string) []brain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]brain.ChatMessage(nil), s.getOrCreateLocked(sessionID, systemPrompt)...)
}

func (s *Store) getOrCreateLocked(sessionID string, systemPrompt func() string) []brain.ChatMessage {
	if h, ok := s.histories[sessionID]; ok {
		return h
	}
	content := ""
	if systemPrompt != nil {
		content = systemPrompt()
	}
	h := []brain.ChatMessage{{Role: "system", Content: content}}
	s.histories[sessionID] = h
	return h
}

// Append adds a message and enforces the trim invariant: when the history
// exceeds the maximum it is rewritten to [system, last keepRecent messages]
// preserving the relative order of the retained tail.
func (s *Store) Append(sessionID string, msg brain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.getOrCreateLocked(sessionID, nil)
	h = append(h, msg)

	if len(h) > s.maxHistory {
		trimmed := make([]brain.ChatMessage, 0, s.keepRecent+1)
		trimmed = append(trimmed, h[0])
		trimmed = append(trimmed, h[len(h)-s.keepRecent:]...)
		h = trimmed
	}
	s.histories[sessionID] = h
}

// ReplaceSystem swaps the system instruction in place. The system prompt
// embeds the current date and time, so callers refresh it before every
// model call instead of trusting the seeded value.
func (s *Store) ReplaceSystem(sessionID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.getOrCreateLocked(sessionID, nil)
	h[0] = brain.ChatMessage{Role: "system", Content: content}
}

// Snapshot returns a copy of the history, or nil for an unknown session.
func (s *Store) Snapshot(sessionID string) []brain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[sessionID]
	if !ok {
		return nil
	}
	return append([]brain.ChatMessage(nil), h...)
}

// Len reports the current history length for a session, zero if unknown.
func (s *Store) Len(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories[sessionID])
}

// Sessions reports the number of live session histories.
func (s *Store) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories)
}
