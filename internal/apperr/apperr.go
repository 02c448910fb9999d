// Package apperr categorizes failures so that every pipeline boundary can turn
// them into a short user-facing message while the full error is logged.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Category is the user-visible class of a failure.
type Category string

const (
	CategorySafety          Category = "safety"
	CategoryInvalidInput    Category = "invalid_input"
	CategoryRateLimited     Category = "rate_limited"
	CategoryUnavailable     Category = "unavailable"
	CategoryUnauthenticated Category = "unauthenticated"
	CategoryNotFound        Category = "not_found"
	CategoryRender          Category = "render"
	CategoryGeneric         Category = "generic"
)

var (
	ErrSafetyBlocked   = errors.New("content blocked by safety policy")
	ErrInvalidInput    = errors.New("invalid or unsupported input")
	ErrRateLimited     = errors.New("upstream rate limit exceeded")
	ErrUnavailable     = errors.New("upstream service unavailable")
	ErrUnauthenticated = errors.New("upstream authentication failed")
	ErrNotFound        = errors.New("not found")
	ErrNoSources       = errors.New("no source documents")
	ErrEmptyResult     = errors.New("empty result from backend")
	ErrNotConfigured   = errors.New("backend not configured")
)

var sentinelCategories = []struct {
	err error
	cat Category
}{
	{ErrSafetyBlocked, CategorySafety},
	{ErrInvalidInput, CategoryInvalidInput},
	{ErrRateLimited, CategoryRateLimited},
	{ErrUnavailable, CategoryUnavailable},
	{ErrUnauthenticated, CategoryUnauthenticated},
	{ErrNotFound, CategoryNotFound},
}

// Error attaches a category and the failing operation to an underlying error.
type Error struct {
	Category Category
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Category)
	default:
		return string(e.Category)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a category. A nil err yields a bare categorized error.
func New(cat Category, op string, err error) *Error {
	return &Error{Category: cat, Op: op, Err: err}
}

// CategoryOf classifies err: explicit categories first, then sentinels, then
// well-known phrases in the innermost cause's message. Wrapper text carries
// locators and ids and is never matched. Unmatched errors are generic.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryGeneric
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Category != "" && ae.Category != CategoryGeneric {
		return ae.Category
	}
	for _, s := range sentinelCategories {
		if errors.Is(err, s.err) {
			return s.cat
		}
	}
	return categoryFromMessage(rootCause(err).Error())
}

// rootCause follows the single-error Unwrap chain to its end.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

var messagePatterns = []struct {
	cat     Category
	phrases []string
}{
	{CategorySafety, []string{"safety", "blocked", "harm_category", "prohibited content", "recitation"}},
	{CategoryRateLimited, []string{"429", "rate limit", "resource exhausted", "resource_exhausted", "resourceexhausted", "quota"}},
	{CategoryInvalidInput, []string{"unsupported mime", "unsupported file", "invalid argument", "invalid_argument", "invalidargument", "mime type", "malformed"}},
	{CategoryUnauthenticated, []string{"401", "403", "unauthenticated", "permission denied", "permissiondenied", "api key not valid"}},
	{CategoryUnavailable, []string{"503", "502", "unavailable", "overloaded", "connection reset"}},
}

func categoryFromMessage(msg string) Category {
	lower := strings.ToLower(msg)
	for _, p := range messagePatterns {
		for _, phrase := range p.phrases {
			if strings.Contains(lower, phrase) {
				return p.cat
			}
		}
	}
	return CategoryGeneric
}

// UserMessage returns the short message shown to clients for err. fallback is
// used for generic failures so a stage can say what it was doing.
func UserMessage(err error, fallback string) string {
	switch CategoryOf(err) {
	case CategorySafety:
		return "The document content was rejected by the AI safety filters."
	case CategoryInvalidInput:
		return "One of the files is in an unsupported or invalid format."
	case CategoryRateLimited:
		return "The AI service is busy right now. Please try again in a minute."
	case CategoryUnavailable:
		return "The AI service is temporarily unavailable. Please try again later."
	case CategoryUnauthenticated:
		return "The service is not authorized to reach the AI backend."
	case CategoryNotFound:
		return "The requested item could not be found."
	case CategoryRender:
		return "The report could not be rendered to PDF."
	}
	if fallback != "" {
		return fallback
	}
	return "Something went wrong while processing your request."
}
