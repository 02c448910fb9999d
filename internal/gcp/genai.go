package gcp

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"google.golang.org/api/iterator"
)

// The Vertex and Gemini SDKs share one chat and streaming shape but no types.
// The flow lives here once and each adapter supplies its SDK types.

// splitContents separates the seeded history from the message to send.
func splitContents(contents []models.Content) ([]models.Content, models.Content, error) {
	if len(contents) == 0 {
		return nil, models.Content{}, apperr.New(apperr.CategoryInvalidInput, "generate", errors.New("request has no contents"))
	}
	last := len(contents) - 1
	return contents[:last], contents[last], nil
}

func contentRole(r models.TurnRole) string {
	if r == models.RoleModel {
		return "model"
	}
	return "user"
}

// joinText concatenates the text parts of a candidate.
func joinText[P any, T ~string](parts []P) string {
	var sb strings.Builder
	for _, part := range parts {
		if txt, ok := any(part).(T); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

// safetyError maps an SDK's blocked-response error B to the safety category.
func safetyError[B error](err error) error {
	var blocked B
	if errors.As(err, &blocked) {
		return apperr.New(apperr.CategorySafety, "generate", fmt.Errorf("%w: %v", apperr.ErrSafetyBlocked, err))
	}
	return err
}

// responseStream adapts an SDK response iterator to models.TextStream.
// Chunks without text are skipped.
type responseStream[R any] struct {
	next   func() (R, error)
	text   func(R) string
	mapErr func(error) error
}

func (s *responseStream[R]) Next() (string, error) {
	for {
		resp, err := s.next()
		if errors.Is(err, iterator.Done) {
			return "", io.EOF
		}
		if err != nil {
			return "", s.mapErr(err)
		}
		if text := s.text(resp); text != "" {
			return text, nil
		}
	}
}

func (s *responseStream[R]) Close() error { return nil }
