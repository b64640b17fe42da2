package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-go-golems/bookchat/pkg/turnlog"
	"github.com/go-go-golems/bookchat/pkg/turnlog/serde"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// YAMLDirStore writes one YAML snapshot file per session into a directory.
type YAMLDirStore struct {
	mu     sync.RWMutex
	dir    string
	closed bool
}

func NewYAMLDirStore(dir string) (*YAMLDirStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("yaml store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create yaml store directory %s", dir)
	}
	return &YAMLDirStore{dir: dir}, nil
}

func (s *YAMLDirStore) pathFor(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || strings.HasPrefix(sessionID, ".") {
		return "", fmt.Errorf("yaml store: invalid session id %q", sessionID)
	}
	return filepath.Join(s.dir, sessionID+".yaml"), nil
}

func (s *YAMLDirStore) Save(ctx context.Context, l *turnlog.TurnLog) error {
	if l == nil {
		return fmt.Errorf("yaml store: nil snapshot")
	}
	path, err := s.pathFor(l.SessionID)
	if err != nil {
		return err
	}
	b, err := serde.ToYAML(l)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("yaml store closed")
	}
	tmp, err := os.CreateTemp(s.dir, "."+l.SessionID+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "yaml store: replace %s", path)
	}
	return nil
}

func (s *YAMLDirStore) Load(ctx context.Context, sessionID string) (*turnlog.TurnLog, error) {
	path, err := s.pathFor(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("yaml store closed")
	}
	l, err := serde.LoadYAML(path)
	if os.IsNotExist(errors.Cause(err)) {
		return nil, ErrNotFound
	}
	return l, err
}

func (s *YAMLDirStore) List(ctx context.Context, userID string) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	ret := []Summary{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".yaml" {
			continue
		}
		path := filepath.Join(s.dir, name)
		l, err := serde.LoadYAML(path)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("yaml store: skipping unreadable snapshot")
			continue
		}
		if userID != "" && l.UserID != userID {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		ret = append(ret, summaryOf(l, info.ModTime().UTC()))
	}
	sortSummaries(ret)
	return ret, nil
}

func (s *YAMLDirStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*YAMLDirStore)(nil)
