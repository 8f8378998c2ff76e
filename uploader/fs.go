package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	transcribe "github.com/robertor4/transcribe-sub002"
)

// FS is an ObjectStore on the local filesystem. Keys map to paths under the
// root; useful for development and single-node deployments.
type FS struct {
	root string
}

// NewFS creates a filesystem store rooted at dir.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("uploader: create root %s: %w", dir, err)
	}
	return &FS{root: dir}, nil
}

var _ ObjectStore = (*FS)(nil)

// sanitizeKey keeps keys inside the root: path traversal segments are
// rejected, separators normalized.
func (s *FS) sanitizeKey(key string) (string, error) {
	clean := filepath.Clean(strings.ReplaceAll(key, "\\", "/"))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("uploader: invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FS) Upload(_ context.Context, key string, data []byte, _ string) error {
	path, err := s.sanitizeKey(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("uploader: mkdir for %s: %w", key, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("uploader: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("uploader: finalize %s: %w", key, err)
	}
	return nil
}

func (s *FS) UploadStream(ctx context.Context, key string, r io.Reader, _ string) error {
	path, err := s.sanitizeKey(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("uploader: mkdir for %s: %w", key, err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("uploader: create %s: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()      //nolint:errcheck // already failing
		os.Remove(tmp) //nolint:errcheck // best effort
		return fmt.Errorf("uploader: stream %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("uploader: close %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("uploader: finalize %s: %w", key, err)
	}
	_ = ctx
	return nil
}

func (s *FS) Download(_ context.Context, key string) ([]byte, error) {
	path, err := s.sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("uploader: %s: %w", key, transcribe.ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("uploader: read %s: %w", key, err)
	}
	return data, nil
}

func (s *FS) DownloadTo(_ context.Context, key, dest string) error {
	path, err := s.sanitizeKey(key)
	if err != nil {
		return err
	}
	src, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("uploader: %s: %w", key, transcribe.ErrObjectNotFound)
	}
	if err != nil {
		return fmt.Errorf("uploader: open %s: %w", key, err)
	}
	defer src.Close() //nolint:errcheck // read-only handle

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("uploader: create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close() //nolint:errcheck // already failing
		return fmt.Errorf("uploader: copy %s: %w", key, err)
	}
	return out.Close()
}

func (s *FS) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.sanitizeKey(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("uploader: stat %s: %w", key, err)
	}
	return true, nil
}

func (s *FS) Delete(_ context.Context, key string) error {
	path, err := s.sanitizeKey(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("uploader: delete %s: %w", key, err)
	}
	return nil
}

func (s *FS) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("uploader: list %q: %w", prefix, err)
	}
	return keys, nil
}
