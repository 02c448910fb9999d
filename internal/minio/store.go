// Package minio serves s3:// and minio:// locators from an S3-compatible store.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
}

// Store implements storage.Backend.
type Store struct {
	client *minio.Client
}

// New connects and verifies credentials with a bucket listing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	if _, err := c.ListBuckets(ctx); err != nil {
		return nil, fmt.Errorf("minio health check failed: %w", err)
	}
	return &Store{client: c}, nil
}

func (s *Store) Get(ctx context.Context, loc storage.Locator) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapErr("get object", loc, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapErr("read object", loc, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, loc storage.Locator, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, loc.Bucket, loc.Key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return mapErr("put object", loc, err)
	}
	return nil
}

func (s *Store) SignedURL(ctx context.Context, loc storage.Locator, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, loc.Bucket, loc.Key, ttl, url.Values{})
	if err != nil {
		return "", mapErr("presign object", loc, err)
	}
	return u.String(), nil
}

func mapErr(op string, loc storage.Locator, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return apperr.New(apperr.CategoryNotFound, op, fmt.Errorf("%s: %w", loc, apperr.ErrNotFound))
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return apperr.New(apperr.CategoryUnauthenticated, op, fmt.Errorf("%s: %w: %v", loc, apperr.ErrUnauthenticated, err))
	case "SlowDown":
		return apperr.New(apperr.CategoryRateLimited, op, fmt.Errorf("%s: %w: %v", loc, apperr.ErrRateLimited, err))
	}
	return fmt.Errorf("%s %s: %w", op, loc, err)
}
