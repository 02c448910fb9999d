package render

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderToDocument_PostsHTMLForm(t *testing.T) {
	var gotForm map[string]string
	var gotHTML string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, convertPath, r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotForm = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotForm[k] = v[0]
		}
		f, _, err := r.FormFile("files")
		require.NoError(t, err)
		b, _ := io.ReadAll(f)
		gotHTML = string(b)
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	r := NewHTTPRenderer(srv.URL+"/", 0)
	pdf, err := r.RenderToDocument(context.Background(), "<h1>BOM</h1>", models.RenderOptions{PaperSize: "letter", Landscape: true, MarginInches: 0.75})
	require.NoError(t, err)

	assert.Equal(t, "%PDF-1.7", string(pdf))
	assert.Equal(t, "<h1>BOM</h1>", gotHTML)
	assert.Equal(t, "8.5", gotForm["paperWidth"])
	assert.Equal(t, "11", gotForm["paperHeight"])
	assert.Equal(t, "0.75", gotForm["marginTop"])
	assert.Equal(t, "true", gotForm["landscape"])
}

func TestRenderToDocument_MapsStatusToCategory(t *testing.T) {
	tests := []struct {
		status int
		want   apperr.Category
	}{
		{http.StatusServiceUnavailable, apperr.CategoryUnavailable},
		{http.StatusTooManyRequests, apperr.CategoryRateLimited},
		{http.StatusBadRequest, apperr.CategoryInvalidInput},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "chromium crashed", tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTPRenderer(srv.URL, 0).RenderToDocument(context.Background(), "<p/>", models.RenderOptions{})
			require.Error(t, err)
			assert.Equal(t, tt.want, apperr.CategoryOf(err))
			assert.Contains(t, err.Error(), "chromium crashed")
		})
	}
}

func TestRenderToDocument_EmptyBodyIsRenderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewHTTPRenderer(srv.URL, 0).RenderToDocument(context.Background(), "<p/>", models.RenderOptions{})
	assert.Equal(t, apperr.CategoryRender, apperr.CategoryOf(err))
}
