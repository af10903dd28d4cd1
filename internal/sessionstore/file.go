package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var _ Store = (*FileStore)(nil)

// FileStore writes one JSON file per key into a directory.
type FileStore struct {
	dir  string
	opts options
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("sessionstore: file store needs a directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("sessionstore: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir, opts: buildOptions(opts)}, nil
}

func (f *FileStore) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, key)
	return filepath.Join(f.dir, safe+".json")
}

// Save implements [Store]. The file is replaced atomically.
func (f *FileStore) Save(ctx context.Context, key string, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return persistErr("save", key, err)
	}
	b, err := Encode(s)
	if err != nil {
		return persistErr("save", key, err)
	}
	tmp, err := os.CreateTemp(f.dir, ".snapshot-*")
	if err != nil {
		return persistErr("save", key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return persistErr("save", key, err)
	}
	if err := tmp.Close(); err != nil {
		return persistErr("save", key, err)
	}
	return persistErr("save", key, os.Rename(tmp.Name(), f.path(key)))
}

// Load implements [Store].
func (f *FileStore) Load(ctx context.Context, key string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("load", key, err)
	}
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("load", key, err)
	}
	s, err := Decode(b, f.opts.now(), f.opts.window)
	return s, persistErr("load", key, err)
}

// Clear implements [Store].
func (f *FileStore) Clear(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return persistErr("clear", key, err)
}
