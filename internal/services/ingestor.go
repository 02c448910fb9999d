package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/Lllllllleong/engineeringdocs/internal/retry"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const pdfMIMEType = "application/pdf"

// LocalCopy is a cached on-disk copy of a document's source bytes.
type LocalCopy struct {
	Path     string
	MIMEType string
	Info     models.SourceInfo
}

// DocumentIngestor materializes document sources locally and registers them
// with the AI backend's file registry.
type DocumentIngestor struct {
	objects  ObjectStore
	registry FileRegistry
	caller   *retry.Caller
	cacheDir string
	log      *slog.Logger
}

func NewDocumentIngestor(objects ObjectStore, registry FileRegistry, caller *retry.Caller, cacheDir string, log *slog.Logger) *DocumentIngestor {
	if log == nil {
		log = slog.Default()
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "docflow-cache")
	}
	return &DocumentIngestor{
		objects:  objects,
		registry: registry,
		caller:   caller,
		cacheDir: cacheDir,
		log:      log,
	}
}

// EnsureLocalCopy returns a local copy of doc's source, downloading it on a
// cache miss. The cache is keyed by storage locator.
func (i *DocumentIngestor) EnsureLocalCopy(ctx context.Context, doc *models.Document) (LocalCopy, error) {
	if !doc.HasSource() {
		return LocalCopy{}, apperr.New(apperr.CategoryInvalidInput, "ensure local copy", fmt.Errorf("document %s has no storage locator", doc.ID))
	}
	logCtx := i.log.With("documentId", doc.ID, "locator", doc.StorageLocator)
	mimeType := detectMIMEType(doc)
	path := i.cachePath(doc.StorageLocator, doc.OriginalFilename)

	if _, err := os.Stat(path); err == nil {
		logCtx.Info("Using cached local copy.", "path", path)
	} else {
		if err := os.MkdirAll(i.cacheDir, 0o755); err != nil {
			return LocalCopy{}, fmt.Errorf("failed to create cache dir: %w", err)
		}
		data, err := i.objects.Download(ctx, doc.StorageLocator)
		if err != nil {
			return LocalCopy{}, fmt.Errorf("failed to download source: %w", err)
		}
		if err := writeFileAtomically(path, data); err != nil {
			return LocalCopy{}, err
		}
		logCtx.Info("Downloaded source to local cache.", "path", path, "bytes", len(data))
	}

	hash, err := calculateFileHash(path)
	if err != nil {
		return LocalCopy{}, fmt.Errorf("failed to calculate file hash: %w", err)
	}
	local := LocalCopy{Path: path, MIMEType: mimeType, Info: models.SourceInfo{FileHash: hash}}

	if mimeType == pdfMIMEType {
		pages, err := countPages(path)
		if err != nil {
			_ = os.Remove(path)
			return LocalCopy{}, apperr.New(apperr.CategoryInvalidInput, "read pdf", err)
		}
		local.Info.PageCount = pages
	}
	return local, nil
}

// RegisterWithBackend uploads the local copy to the file registry, retrying
// transient failures.
func (i *DocumentIngestor) RegisterWithBackend(ctx context.Context, doc *models.Document, local LocalCopy) (models.FileHandle, error) {
	if i.registry == nil {
		return models.FileHandle{}, apperr.ErrNotConfigured
	}
	displayName := doc.OriginalFilename
	if displayName == "" {
		displayName = doc.ID
	}
	return retry.Do(ctx, i.caller, func(ctx context.Context) (models.FileHandle, error) {
		f, err := os.Open(local.Path)
		if err != nil {
			return models.FileHandle{}, fmt.Errorf("could not open local file %s: %w", local.Path, err)
		}
		defer f.Close()
		return i.registry.RegisterFile(ctx, f, local.MIMEType, displayName)
	}, 0, nil)
}

func (i *DocumentIngestor) cachePath(locator, filename string) string {
	sum := sha256.Sum256([]byte(locator))
	return filepath.Join(i.cacheDir, hex.EncodeToString(sum[:])+strings.ToLower(filepath.Ext(filename)))
}

func detectMIMEType(doc *models.Document) string {
	if doc.MediaType != "" {
		return doc.MediaType
	}
	ext := filepath.Ext(doc.OriginalFilename)
	if ext == "" {
		ext = filepath.Ext(doc.StorageLocator)
	}
	if t := mime.TypeByExtension(strings.ToLower(ext)); t != "" {
		mt, _, _ := strings.Cut(t, ";")
		return mt
	}
	return pdfMIMEType
}

func writeFileAtomically(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move download into cache: %w", err)
	}
	return nil
}

func countPages(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(f, conf)
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
