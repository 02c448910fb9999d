package gcp

import (
	"errors"
	"testing"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNotFound(t *testing.T) {
	err := notFound("get document", status.Error(codes.NotFound, "no such document"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, apperr.CategoryNotFound, apperr.CategoryOf(err))

	other := status.Error(codes.Unavailable, "try later")
	err = notFound("get document", other)
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, apperr.ErrNotFound)

	plain := errors.New("decode failed")
	assert.ErrorIs(t, notFound("claim document", plain), plain)
}

func TestNewFirestoreClientRequiresProject(t *testing.T) {
	_, err := NewFirestoreClient(t.Context(), "")
	assert.Error(t, err)
}
