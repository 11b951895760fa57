package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// LocalSink writes artifacts into a directory.
type LocalSink struct {
	dir string
}

// NewLocalSink creates a sink for dir. A leading ~ is expanded.
func NewLocalSink(dir string) (*LocalSink, error) {
	if dir == "" {
		dir = "."
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand artifacts directory %q: %w", dir, err)
	}
	return &LocalSink{dir: expanded}, nil
}

// Dir returns the expanded target directory.
func (s *LocalSink) Dir() string { return s.dir }

func (s *LocalSink) Store(ctx context.Context, _ string, a Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, filepath.Base(a.Name))
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
