// Package storage saves and serves files of an application.
package storage

import (
	"context"
	"io"
	"strings"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/config"
	"github.com/bfast/bfast-go/pkg/observability/logger"
	"github.com/bfast/bfast-go/pkg/security"
	"github.com/bfast/bfast-go/pkg/transport"
)

// FileRef identifies a stored file and where to fetch it.
type FileRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Storage is implemented by every file backend.
type Storage interface {
	Save(ctx context.Context, name string, body io.Reader, contentType string) (FileRef, error)
	URL(ctx context.Context, name string) (string, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, prefix string) ([]FileRef, error)
}

// Options configures New.
type Options struct {
	App       string
	Registry  *config.Registry
	Transport transport.Transport
	Config    config.StorageConfig
	Logger    logger.Logger
}

// New returns the backend selected by opts.Config.Backend.
func New(ctx context.Context, opts Options) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Config.Backend)) {
	case "", config.StorageBackendREST:
		return NewREST(opts.App, opts.Registry, opts.Transport, opts.Logger)
	case config.StorageBackendS3:
		return NewS3(ctx, opts.Config.S3, opts.Logger)
	default:
		return nil, apperr.Config("unsupported storage backend %q", opts.Config.Backend)
	}
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("file name is required")
	}
	if err := security.ValidateObjectName(name); err != nil {
		return "", apperr.Validation("file name %q: %v", name, err)
	}
	return name, nil
}
