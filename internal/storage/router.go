package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
)

// Backend is one object store implementation, addressed by parsed locator.
type Backend interface {
	Get(ctx context.Context, loc Locator) ([]byte, error)
	Put(ctx context.Context, loc Locator, data []byte, contentType string) error
	SignedURL(ctx context.Context, loc Locator, ttl time.Duration) (string, error)
}

// Router dispatches locator-addressed calls to the backend registered for the
// locator's scheme. It satisfies services.ObjectStore.
type Router struct {
	backends map[string]Backend
}

func NewRouter() *Router {
	return &Router{backends: make(map[string]Backend)}
}

// Register binds a backend to one or more schemes (e.g. "s3", "minio").
func (r *Router) Register(b Backend, schemes ...string) *Router {
	for _, s := range schemes {
		r.backends[s] = b
	}
	return r
}

func (r *Router) backend(locator string) (Backend, Locator, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return nil, Locator{}, err
	}
	b, ok := r.backends[loc.Scheme]
	if !ok {
		return nil, loc, apperr.New(apperr.CategoryInvalidInput, "object store", fmt.Errorf("no backend registered for scheme %q", loc.Scheme))
	}
	return b, loc, nil
}

func (r *Router) Download(ctx context.Context, locator string) ([]byte, error) {
	b, loc, err := r.backend(locator)
	if err != nil {
		return nil, err
	}
	data, err := b.Get(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", locator, err)
	}
	return data, nil
}

func (r *Router) Upload(ctx context.Context, data []byte, locator, contentType string) error {
	b, loc, err := r.backend(locator)
	if err != nil {
		return err
	}
	if err := b.Put(ctx, loc, data, contentType); err != nil {
		return fmt.Errorf("failed to upload %s: %w", locator, err)
	}
	return nil
}

func (r *Router) SignedURL(ctx context.Context, locator string, ttl time.Duration) (string, error) {
	b, loc, err := r.backend(locator)
	if err != nil {
		return "", err
	}
	url, err := b.SignedURL(ctx, loc, ttl)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s: %w", locator, err)
	}
	return url, nil
}
