package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	istorage "github.com/Lllllllleong/engineeringdocs/internal/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore serves gs:// locators.
type GCSStore struct {
	client *storage.Client
}

func NewGCSStore(client *storage.Client) *GCSStore {
	return &GCSStore{client: client}
}

func (s *GCSStore) Get(ctx context.Context, loc istorage.Locator) ([]byte, error) {
	reader, err := s.client.Bucket(loc.Bucket).Object(loc.Key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, apperr.New(apperr.CategoryNotFound, "read object", fmt.Errorf("%s: %w", loc, apperr.ErrNotFound))
		}
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read object data: %w", err)
	}
	return data, nil
}

// Put writes the object only if it does not already exist. Report names carry
// a timestamp, so a precondition failure means an identical retry already landed.
func (s *GCSStore) Put(ctx context.Context, loc istorage.Locator, data []byte, contentType string) error {
	writer := s.client.Bucket(loc.Bucket).Object(loc.Key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "locator", loc.String())
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "locator", loc.String())
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func (s *GCSStore) SignedURL(ctx context.Context, loc istorage.Locator, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(loc.Bucket).SignedURL(loc.Key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for %s: %w", loc, err)
	}
	return url, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
