package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdvancer struct {
	res *models.AdvanceResponse
	err error
	got [2]string
}

func (s *stubAdvancer) AdvanceByID(_ context.Context, projectID, documentID string) (*models.AdvanceResponse, error) {
	s.got = [2]string{projectID, documentID}
	return s.res, s.err
}

func TestServeAdvance(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		stub     *stubAdvancer
		wantCode int
		wantBody string
	}{
		{
			name:     "success",
			body:     `{"projectId":"p1","documentId":"d1","executionId":"e1"}`,
			stub:     &stubAdvancer{res: &models.AdvanceResponse{Status: "success", ProcessingState: models.StateActive, ActivationProgress: 100}},
			wantCode: http.StatusOK,
			wantBody: `{"status":"success","processingState":"ACTIVE","activationProgress":100}`,
		},
		{name: "bad json", body: `{`, stub: &stubAdvancer{}, wantCode: http.StatusBadRequest},
		{name: "missing ids", body: `{"projectId":"p1"}`, stub: &stubAdvancer{}, wantCode: http.StatusBadRequest},
		{
			name:     "unknown document",
			body:     `{"projectId":"p1","documentId":"nope"}`,
			stub:     &stubAdvancer{err: apperr.New(apperr.CategoryNotFound, "get document", apperr.ErrNotFound)},
			wantCode: http.StatusNotFound,
		},
		{
			name:     "store failure",
			body:     `{"projectId":"p1","documentId":"d1"}`,
			stub:     &stubAdvancer{err: errors.New("firestore: deadline exceeded")},
			wantCode: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			serveAdvance(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)), tt.stub)

			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
				assert.Equal(t, [2]string{"p1", "d1"}, tt.stub.got)
			}
		})
	}
}
