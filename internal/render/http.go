// Package render converts report HTML into PDF through an HTTP rendering
// service speaking the Gotenberg Chromium route.
package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/Lllllllleong/engineeringdocs/internal/retry"
)

const convertPath = "/forms/chromium/convert/html"

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 2048

// Paper sizes in inches.
var paperSizes = map[string][2]float64{
	"A4":     {8.27, 11.7},
	"LETTER": {8.5, 11},
}

type HTTPRenderer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRenderer(baseURL string, timeout time.Duration) *HTTPRenderer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPRenderer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRenderer) RenderToDocument(ctx context.Context, markup string, opts models.RenderOptions) ([]byte, error) {
	body, contentType, err := buildForm(markup, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+convertPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create render request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		cat := retry.CategoryForHTTPStatus(resp.StatusCode)
		return nil, apperr.New(cat, "render", fmt.Errorf("renderer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered document: %w", err)
	}
	if len(pdf) == 0 {
		return nil, apperr.New(apperr.CategoryRender, "render", apperr.ErrEmptyResult)
	}
	return pdf, nil
}

func buildForm(markup string, opts models.RenderOptions) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, "", err
	}
	if _, err := io.WriteString(part, markup); err != nil {
		return nil, "", err
	}

	size, ok := paperSizes[strings.ToUpper(opts.PaperSize)]
	if !ok {
		size = paperSizes["A4"]
	}
	margin := opts.MarginInches
	if margin <= 0 {
		margin = 0.5
	}
	fields := map[string]string{
		"paperWidth":      formatInches(size[0]),
		"paperHeight":     formatInches(size[1]),
		"marginTop":       formatInches(margin),
		"marginBottom":    formatInches(margin),
		"marginLeft":      formatInches(margin),
		"marginRight":     formatInches(margin),
		"landscape":       strconv.FormatBool(opts.Landscape),
		"printBackground": "true",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func formatInches(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
