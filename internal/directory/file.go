package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// fileDoc is the on-disk layout: {"users": {"<token>": {"chatId": 1, "username": "x"}}}.
type fileDoc struct {
	Users map[string]User `json:"users"`
}

// FileStore keeps users in a single JSON document.
type FileStore struct {
	path string
	mu   sync.Mutex
	doc  fileDoc
}

// OpenFile opens or creates the JSON document at path.
func OpenFile(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &FileStore{path: path, doc: fileDoc{Users: map[string]User{}}}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read users file: %w", err)
	default:
		if err := json.Unmarshal(b, &s.doc); err != nil {
			return nil, fmt.Errorf("parse users file %s: %w", path, err)
		}
		if s.doc.Users == nil {
			s.doc.Users = map[string]User{}
		}
	}
	return s, nil
}

func (s *FileStore) Load(ctx context.Context) ([]User, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.doc.Users))
	for tok, u := range s.doc.Users {
		u.Token = tok
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (s *FileStore) Save(ctx context.Context, u User) error {
	_ = ctx
	if u.Token == "" {
		return errors.New("empty token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Users[u.Token] = u
	if err := s.flushLocked(); err != nil {
		delete(s.doc.Users, u.Token)
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) flushLocked() error {
	b, err := json.Marshal(s.doc)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
