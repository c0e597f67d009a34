package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// ErrOutsideStorage indicates a location that does not belong to this storage.
var ErrOutsideStorage = errors.New("location is not managed by local storage")

// Local keeps uploads on disk and serves them under a public base URL.
type Local struct {
	dir        string
	publicBase string
	logger     zerolog.Logger
}

// NewLocal creates the directory if needed.
func NewLocal(dir, publicBase string, logger zerolog.Logger) (*Local, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("local storage directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	return &Local{
		dir:        dir,
		publicBase: strings.TrimRight(publicBase, "/"),
		logger:     logger.With().Str("component", "local_storage").Logger(),
	}, nil
}

// Dir returns the directory served as static content.
func (l *Local) Dir() string {
	return l.dir
}

func (l *Local) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name = filepath.Base(name)
	file, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}

	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}

	l.logger.Debug().Str("name", name).Msg("file stored on disk")
	return l.publicBase + "/" + name, nil
}

func (l *Local) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !strings.HasPrefix(location, l.publicBase+"/") {
		return nil, fmt.Errorf("%w: %s", ErrOutsideStorage, location)
	}

	name := filepath.Base(strings.TrimPrefix(location, l.publicBase+"/"))
	return os.Open(filepath.Join(l.dir, name))
}
