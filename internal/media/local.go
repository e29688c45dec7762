package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local stores files under a directory served at baseURL.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal creates the directory if needed.
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(filepath.Join(dir, ImagesDir), 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the root directory.
func (l *Local) Dir() string {
	return l.dir
}

// Save writes data and returns its public URL.
func (l *Local) Save(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, _, err := objectName(data, contentType)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(l.dir, filepath.FromSlash(name)), data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return l.baseURL + "/" + name, nil
}
