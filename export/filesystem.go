package export

import (
	"context"
	"os"
	"path/filepath"
)

const (
	defaultFilePermissions = 0644
	defaultDirPermissions  = 0755
)

// FilesystemSink stores envelopes as files under a base directory.
type FilesystemSink struct {
	basePath string
}

// NewFilesystemSink creates a sink rooted at basePath.
func NewFilesystemSink(basePath string) *FilesystemSink {
	return &FilesystemSink{basePath: basePath}
}

func (s *FilesystemSink) path(name string) string {
	return filepath.Join(s.basePath, name)
}

func (s *FilesystemSink) Write(ctx context.Context, name string, data []byte) error {
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPermissions); err != nil {
		return err
	}
	return os.WriteFile(path, data, defaultFilePermissions)
}

func (s *FilesystemSink) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		if os.IsPermission(err) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return data, nil
}
