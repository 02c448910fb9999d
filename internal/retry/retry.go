// Package retry wraps fallible remote operations with bounded attempts and
// exponential backoff, retrying only failures classified as transient.
package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/models"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// OnRetry is invoked after a failed attempt and before the backoff sleep.
type OnRetry func(attempt, maxAttempts int)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Caller holds the retry policy shared by every remote call site.
type Caller struct {
	maxAttempts int
	baseDelay   time.Duration
	sleep       SleepFunc
	classify    func(error) Class
	log         *slog.Logger
}

type Option func(*Caller)

// WithMaxAttempts sets the default used when a call passes maxAttempts <= 0.
func WithMaxAttempts(n int) Option {
	return func(c *Caller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Caller) {
		if d >= 0 {
			c.baseDelay = d
		}
	}
}

func WithSleep(fn SleepFunc) Option {
	return func(c *Caller) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func WithClassifier(fn func(error) Class) Option {
	return func(c *Caller) {
		if fn != nil {
			c.classify = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Caller) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a Caller with 3 attempts, 1s base delay and real sleeping.
func New(opts ...Option) *Caller {
	c := &Caller{
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       Sleep,
		classify:    Classify,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxAttempts is the default attempt ceiling.
func (c *Caller) MaxAttempts() int { return c.maxAttempts }

// Backoff returns the delay before 1-indexed attempt k: base * 2^(k-2) for k >= 2.
func (c *Caller) Backoff(k int) time.Duration {
	if k < 2 {
		return 0
	}
	return c.baseDelay << uint(k-2)
}

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs op until it succeeds, fails terminally, or maxAttempts is reached,
// and returns the last error in the failure cases. Attempts never overlap.
func Do[T any](ctx context.Context, c *Caller, op func(context.Context) (T, error), maxAttempts int, onRetry OnRetry) (T, error) {
	if c == nil {
		c = New()
	}
	if maxAttempts <= 0 {
		maxAttempts = c.maxAttempts
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if c.classify(err) == Terminal {
			c.log.Warn("Remote call failed with terminal error.", "attempt", attempt, "error", err)
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		backoff := c.Backoff(attempt + 1)
		c.log.Warn(
			"Remote call failed, will retry.",
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		if onRetry != nil {
			onRetry(attempt, maxAttempts)
		}
		if err := c.sleep(ctx, backoff); err != nil {
			c.log.Error("Context cancelled during backoff. Aborting retries.", "error", err)
			return zero, err
		}
	}
	c.log.Error("Remote call failed after all retries.", "maxAttempts", maxAttempts, "error", lastErr)
	return zero, lastErr
}

// DoStream retries only the initiation of a stream: an attempt succeeds once
// the first chunk (or a clean end of stream) has been read. Errors on later
// chunks are returned by the stream's Next and are never retried.
func DoStream(ctx context.Context, c *Caller, open func(context.Context) (models.TextStream, error), maxAttempts int, onRetry OnRetry) (models.TextStream, error) {
	return Do(ctx, c, func(ctx context.Context) (models.TextStream, error) {
		s, err := open(ctx)
		if err != nil {
			return nil, err
		}
		chunk, err := s.Next()
		if err != nil && !errors.Is(err, io.EOF) {
			_ = s.Close()
			return nil, err
		}
		return &primedStream{TextStream: s, first: chunk, firstErr: err}, nil
	}, maxAttempts, onRetry)
}

// primedStream replays the chunk read during initiation before delegating.
type primedStream struct {
	models.TextStream
	first    string
	firstErr error
	replayed bool
}

func (p *primedStream) Next() (string, error) {
	if !p.replayed {
		p.replayed = true
		return p.first, p.firstErr
	}
	return p.TextStream.Next()
}
