package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-go-golems/bookchat/pkg/turnlog"
	"github.com/go-go-golems/bookchat/pkg/turnlog/serde"
)

type memoryEntry struct {
	payload []byte
	summary Summary
}

// InMemoryStore keeps encoded snapshots in memory, so loaded logs never alias
// saved ones.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	closed   bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: map[string]memoryEntry{}}
}

func (s *InMemoryStore) Save(ctx context.Context, l *turnlog.TurnLog) error {
	if l == nil || l.SessionID == "" {
		return fmt.Errorf("memory store: snapshot without session id")
	}
	payload, err := serde.ToJSON(l)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	s.sessions[l.SessionID] = memoryEntry{payload: payload, summary: summaryOf(l, time.Now().UTC())}
	return nil
}

func (s *InMemoryStore) Load(ctx context.Context, sessionID string) (*turnlog.TurnLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("memory store closed")
	}
	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return serde.FromJSON(e.payload)
}

func (s *InMemoryStore) List(ctx context.Context, userID string) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := []Summary{}
	for _, e := range s.sessions {
		if userID == "" || e.summary.UserID == userID {
			ret = append(ret, e.summary)
		}
	}
	sortSummaries(ret)
	return ret, nil
}

// Put stores a raw JSON payload without checking it. It exists to seed corrupted
// snapshots.
func (s *InMemoryStore) Put(sessionID string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = memoryEntry{payload: payload, summary: Summary{SessionID: sessionID}}
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*InMemoryStore)(nil)
