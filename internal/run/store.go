package run

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store persists sessions. Save is called after every step so a crash or
// restart resumes exactly where the session stood.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, sut string) ([]*Session, error)
	Delete(ctx context.Context, id string) error
}

// FileStore keeps one JSON file per session under a directory. Writes are
// atomic (write-then-rename) and serialized per store.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.dir, id+".json")
}

// Save writes the session file. The encoder keeps struct field order, so
// repeated saves of the same session diff cleanly.
func (fs *FileStore) Save(_ context.Context, s *Session) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	s.UpdatedAt = time.Now().UTC()
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	tmp := fs.path(s.ID) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, fs.path(s.ID))
}

// Get loads one session by id.
func (fs *FileStore) Get(_ context.Context, id string) (*Session, error) {
	raw, err := os.ReadFile(fs.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session not found: %s", id)
		}
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

// List returns sessions, newest last (session ids sort chronologically).
// An empty sut returns every session.
func (fs *FileStore) List(ctx context.Context, sut string) ([]*Session, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, err
	}
	var out []*Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		s, err := fs.Get(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if sut != "" && s.SUT != sut {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes one session file.
func (fs *FileStore) Delete(_ context.Context, id string) error {
	return os.Remove(fs.path(id))
}
