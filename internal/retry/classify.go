package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Class says whether a failed attempt may be repeated.
type Class int

const (
	Terminal Class = iota
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "terminal"
}

type markedError struct {
	class Class
	err   error
}

func (m *markedError) Error() string { return m.err.Error() }
func (m *markedError) Unwrap() error { return m.err }

// MarkRetryable forces err to be retried regardless of its shape.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{class: Retryable, err: err}
}

// MarkTerminal forces err to stop retries regardless of its shape.
func MarkTerminal(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{class: Terminal, err: err}
}

// Classify is the default policy. Rate limits, 5xx/unavailable and transport
// failures are retryable; safety rejections, malformed input, auth failures,
// cancellation and anything unrecognised are terminal.
func Classify(err error) Class {
	if err == nil {
		return Terminal
	}

	var marked *markedError
	if errors.As(err, &marked) {
		return marked.class
	}
	if errors.Is(err, context.Canceled) {
		return Terminal
	}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		if c, ok := classFromCategory(ae.Category); ok {
			return c
		}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classFromHTTPStatus(gerr.Code)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		return classFromGRPCCode(st.Code())
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}

	if c, ok := classFromCategory(apperr.CategoryOf(err)); ok {
		return c
	}
	return Terminal
}

func classFromCategory(cat apperr.Category) (Class, bool) {
	switch cat {
	case apperr.CategoryRateLimited, apperr.CategoryUnavailable:
		return Retryable, true
	case apperr.CategorySafety, apperr.CategoryInvalidInput, apperr.CategoryUnauthenticated, apperr.CategoryNotFound:
		return Terminal, true
	default:
		return Terminal, false
	}
}

func classFromHTTPStatus(code int) Class {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return Retryable
	case code >= 500:
		return Retryable
	default:
		return Terminal
	}
}

func classFromGRPCCode(code codes.Code) Class {
	switch code {
	case codes.ResourceExhausted, codes.Unavailable, codes.Internal, codes.Aborted, codes.DeadlineExceeded:
		return Retryable
	default:
		return Terminal
	}
}

// CategoryForHTTPStatus maps a collaborator's HTTP status to an error category.
func CategoryForHTTPStatus(code int) apperr.Category {
	switch {
	case code == http.StatusTooManyRequests:
		return apperr.CategoryRateLimited
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return apperr.CategoryUnauthenticated
	case code == http.StatusNotFound:
		return apperr.CategoryNotFound
	case code >= 500:
		return apperr.CategoryUnavailable
	case code >= 400:
		return apperr.CategoryInvalidInput
	default:
		return apperr.CategoryGeneric
	}
}
