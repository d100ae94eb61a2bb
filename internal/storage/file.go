package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fileStore keeps one JSON array per source in dir/seen_<source>.json.
type fileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFile(dir string) (Store, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	return &fileStore{dir: dir}, nil
}

func (f *fileStore) Init(context.Context) error {
	return os.MkdirAll(f.dir, 0o755)
}

func (f *fileStore) Close() error { return nil }

func (f *fileStore) path(source string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, source)
	return filepath.Join(f.dir, "seen_"+safe+".json")
}

// LoadSeen treats a missing or corrupt file as an empty set.
func (f *fileStore) LoadSeen(_ context.Context, source string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path(source))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, nil
	}
	return dedupe(ids), nil
}

func (f *fileStore) SaveSeen(_ context.Context, source string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := json.Marshal(dedupe(ids))
	if err != nil {
		return err
	}
	final := f.path(source)
	tmp, err := os.CreateTemp(f.dir, filepath.Base(final)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", final, err)
	}
	return nil
}
