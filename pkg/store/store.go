// Package store persists turn log snapshots between interactions.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-go-golems/bookchat/pkg/turnlog"
)

// ErrNotFound is returned by Load when no snapshot exists for a session.
var ErrNotFound = errors.New("session not found")

// Store keeps the latest snapshot of each session. Save replaces the previous
// snapshot of the same session.
type Store interface {
	Save(ctx context.Context, l *turnlog.TurnLog) error
	Load(ctx context.Context, sessionID string) (*turnlog.TurnLog, error)
	List(ctx context.Context, userID string) ([]Summary, error)
	Close() error
}

// Summary is the chat record of a session without its turns.
type Summary struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     int       `json:"turns"`
}

func summaryOf(l *turnlog.TurnLog, updatedAt time.Time) Summary {
	return Summary{
		SessionID: l.SessionID,
		UserID:    l.UserID,
		Title:     l.Title,
		Path:      l.Path,
		CreatedAt: l.CreatedAt,
		UpdatedAt: updatedAt,
		Turns:     l.Len(),
	}
}

// sortSummaries orders newest chats first.
func sortSummaries(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].SessionID < s[j].SessionID
		}
		return s[i].CreatedAt.After(s[j].CreatedAt)
	})
}
