// Package store persists finished conversations. The transcript log lives in
// memory while a stream is running; a Store receives the complete
// conversation when the stream stops, so a crashed stream loses at most one
// conversation and the realtime path never waits on a database.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/Predictive-Systems-Inc/dr-a/internal/transcript"
)

// Conversation is one finished streaming session's transcript.
type Conversation struct {
	// SessionID groups the entries of one stream.
	SessionID string

	// Topic is the instruction profile the session ran under.
	Topic string

	StartedAt time.Time
	Entries   []transcript.Entry
}

// Store persists conversations. Implementations must be safe for concurrent
// use.
type Store interface {
	// SaveConversation persists conv. Conversations with no entries are
	// persisted as empty and are not an error.
	SaveConversation(ctx context.Context, conv Conversation) error

	// LoadConversation returns the entries saved under sessionID in spoken
	// order.
	LoadConversation(ctx context.Context, sessionID string) ([]transcript.Entry, error)
}

// Compile-time assertion that Memory implements Store.
var _ Store = (*Memory)(nil)

// Memory is an in-process Store for tests and database-free runs.
type Memory struct {
	mu    sync.Mutex
	saved []Conversation
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// SaveConversation implements Store.
func (m *Memory) SaveConversation(_ context.Context, conv Conversation) error {
	entries := make([]transcript.Entry, len(conv.Entries))
	copy(entries, conv.Entries)
	conv.Entries = entries

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, conv)
	return nil
}

// LoadConversation implements Store.
func (m *Memory) LoadConversation(_ context.Context, sessionID string) ([]transcript.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []transcript.Entry
	for _, conv := range m.saved {
		if conv.SessionID == sessionID {
			out = append(out, conv.Entries...)
		}
	}
	return out, nil
}

// Saved returns a snapshot of every saved conversation.
func (m *Memory) Saved() []Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Conversation, len(m.saved))
	copy(out, m.saved)
	return out
}
