package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps flags in a single JSON document readable only by the owner.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a FileStore at path. The file is created on first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	flags, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := flags[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	flags, err := f.load()
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return err
	}
	if flags == nil {
		flags = map[string]string{}
	}
	flags[key] = value
	return f.save(flags)
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	flags, err := f.load()
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			// Nothing trustworthy left to keep.
			return f.save(map[string]string{})
		}
		return err
	}
	if _, ok := flags[key]; !ok {
		return nil
	}
	delete(flags, key)
	return f.save(flags)
}

func (f *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading flag file: %w", err)
	}
	flags := map[string]string{}
	if len(data) == 0 {
		return flags, nil
	}
	if err := json.Unmarshal(data, &flags); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return flags, nil
}

// save writes through a temp file and rename so a crash never leaves a
// half-written document behind.
func (f *FileStore) save(flags map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("creating flag dir: %w", err)
	}
	data, err := json.Marshal(flags)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".flags-*")
	if err != nil {
		return fmt.Errorf("creating temp flag file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing flag file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
