package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/amarcin/village-units/internal/domain"
)

// FS is an ObjectStore over a local directory. Keys are slash-separated
// paths relative to the root.
type FS struct{ root string }

func NewFS(root string) *FS { return &FS{root: filepath.Clean(root)} }

// List returns every object under prefix. A missing prefix yields no objects.
func (s *FS) List(ctx context.Context, prefix string) ([]domain.Object, error) {
	base := filepath.Join(s.root, filepath.FromSlash(prefix))
	var out []domain.Object
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		out = append(out, domain.Object{Key: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	// a missing directory lists as empty, like an unused s3 prefix
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *FS) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("objectstore: %s: %w", key, ErrNotFound)
	}
	return f, err
}

// Put writes through a temp file so readers never observe a partial object.
func (s *FS) Put(_ context.Context, key string, body io.Reader, _ int64) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (s *FS) path(key string) string {
	clean := path.Clean("/" + strings.TrimPrefix(key, "/"))
	return filepath.Join(s.root, filepath.FromSlash(clean))
}
