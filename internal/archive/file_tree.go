package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileTree keeps archive records as files under a local directory
type FileTree struct {
	root string
}

// NewFileTree creates the root directory if needed
func NewFileTree(root string) (*FileTree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve archive path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &FileTree{root: abs}, nil
}

// Put writes body to key through a temp file and an atomic rename
func (t *FileTree) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := t.resolve(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".record-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0o640); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}

// Get reads the file stored at key
func (t *FileTree) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := t.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Walk visits every regular file below the root
func (t *FileTree) Walk(ctx context.Context, fn func(key string) error) error {
	return filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel))
	})
}

// Ping checks that the root is still a directory
func (t *FileTree) Ping(ctx context.Context) error {
	info, err := os.Stat(t.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("archive root %s is not a directory", t.root)
	}
	return nil
}

func (t *FileTree) resolve(key string) (string, error) {
	path := filepath.Join(t.root, filepath.FromSlash(key))
	if path != t.root && !strings.HasPrefix(path, t.root+string(filepath.Separator)) {
		return "", errors.New("archive key escapes root: " + key)
	}
	return path, nil
}
