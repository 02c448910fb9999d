package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"testing"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func textDoc(id, locator string) *models.Document {
	return &models.Document{
		ID:               id,
		ProjectID:        "proj-1",
		OriginalFilename: id + ".txt",
		StorageLocator:   locator,
		MediaType:        "text/plain",
		ProcessingState:  models.StatePending,
	}
}

func TestEnsureLocalCopy_CachesByLocator(t *testing.T) {
	objects := newFakeObjects()
	objects.objects["gs://uploads/proj-1/a.txt"] = []byte("pump datasheet")
	ing := NewDocumentIngestor(objects, nil, testCaller(), t.TempDir(), nil)
	doc := textDoc("a", "gs://uploads/proj-1/a.txt")

	first, err := ing.EnsureLocalCopy(context.Background(), doc)
	require.NoError(t, err)
	second, err := ing.EnsureLocalCopy(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, int32(1), objects.downloads.Load(), "second call is served from cache")

	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "pump datasheet", string(data))

	sum := sha256.Sum256([]byte("pump datasheet"))
	assert.Equal(t, hex.EncodeToString(sum[:]), first.Info.FileHash)
	assert.Equal(t, "text/plain", first.MIMEType)
	assert.Zero(t, first.Info.PageCount)
}

func TestEnsureLocalCopy_DownloadFailure(t *testing.T) {
	objects := newFakeObjects()
	objects.errs["gs://uploads/missing.txt"] = errors.New("storage: object doesn't exist")
	ing := NewDocumentIngestor(objects, nil, testCaller(), t.TempDir(), nil)

	_, err := ing.EnsureLocalCopy(context.Background(), textDoc("m", "gs://uploads/missing.txt"))
	assert.ErrorContains(t, err, "failed to download source")
}

func TestEnsureLocalCopy_NoLocator(t *testing.T) {
	ing := NewDocumentIngestor(newFakeObjects(), nil, testCaller(), t.TempDir(), nil)
	_, err := ing.EnsureLocalCopy(context.Background(), textDoc("n", ""))
	assert.Equal(t, apperr.CategoryInvalidInput, apperr.CategoryOf(err))
}

func TestEnsureLocalCopy_RejectsUnreadablePDF(t *testing.T) {
	objects := newFakeObjects()
	objects.objects["gs://uploads/broken.pdf"] = []byte("this is not a pdf")
	dir := t.TempDir()
	ing := NewDocumentIngestor(objects, nil, testCaller(), dir, nil)
	doc := &models.Document{ID: "b", ProjectID: "proj-1", OriginalFilename: "broken.pdf", StorageLocator: "gs://uploads/broken.pdf"}

	_, err := ing.EnsureLocalCopy(context.Background(), doc)
	require.Error(t, err)
	assert.Equal(t, apperr.CategoryInvalidInput, apperr.CategoryOf(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "unreadable PDFs are evicted from the cache")
}

func TestRegisterWithBackend_RetriesTransientErrors(t *testing.T) {
	objects := newFakeObjects()
	objects.objects["gs://uploads/a.txt"] = []byte("content")
	reg := &fakeRegistry{
		registerErr: []error{status.Error(codes.Unavailable, "try later"), nil},
		handle:      processing("files/a"),
	}
	ing := NewDocumentIngestor(objects, reg, testCaller(), t.TempDir(), nil)
	doc := textDoc("a", "gs://uploads/a.txt")

	local, err := ing.EnsureLocalCopy(context.Background(), doc)
	require.NoError(t, err)
	h, err := ing.RegisterWithBackend(context.Background(), doc, local)
	require.NoError(t, err)

	assert.Equal(t, "files/a", h.Name)
	assert.Equal(t, int32(2), reg.registers.Load())
	assert.Equal(t, []byte("content"), reg.registered, "each attempt re-reads the file from the start")
}

func TestRegisterWithBackend_TerminalErrorNotRetried(t *testing.T) {
	objects := newFakeObjects()
	objects.objects["gs://uploads/a.txt"] = []byte("content")
	reg := &fakeRegistry{registerErr: []error{status.Error(codes.InvalidArgument, "unsupported mime type")}}
	ing := NewDocumentIngestor(objects, reg, testCaller(), t.TempDir(), nil)
	doc := textDoc("a", "gs://uploads/a.txt")

	local, err := ing.EnsureLocalCopy(context.Background(), doc)
	require.NoError(t, err)
	_, err = ing.RegisterWithBackend(context.Background(), doc, local)
	require.Error(t, err)
	assert.Equal(t, int32(1), reg.registers.Load())
}

func TestDetectMIMEType(t *testing.T) {
	assert.Equal(t, "application/pdf", detectMIMEType(&models.Document{OriginalFilename: "drawing.PDF"}))
	assert.Equal(t, "image/png", detectMIMEType(&models.Document{StorageLocator: "gs://b/scan.png"}))
	assert.Equal(t, "text/csv", detectMIMEType(&models.Document{MediaType: "text/csv", OriginalFilename: "x.pdf"}))
	assert.Equal(t, "application/pdf", detectMIMEType(&models.Document{OriginalFilename: "noext"}))
}
