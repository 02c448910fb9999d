package services

import (
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, r *ProgressReporter) []models.ProgressEvent {
	t.Helper()
	var events []models.ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-r.Events():
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatal("reporter channel was never closed")
			return nil
		}
	}
}

func assertSingleTerminalLast(t *testing.T, events []models.ProgressEvent) {
	t.Helper()
	require.NotEmpty(t, events)
	terminals := 0
	for _, e := range events {
		if e.IsTerminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals, "exactly one terminal event")
	assert.True(t, events[len(events)-1].IsTerminal(), "terminal event must be last")
}

func TestProgressReporter_DropsEventsAfterTerminal(t *testing.T) {
	r := NewProgressReporter(8)
	r.Status("one")
	r.Status("two")
	assert.True(t, r.Complete("gs://b/report.pdf"))
	r.Status("late")
	assert.False(t, r.Error("late error"))
	assert.False(t, r.Complete("again"))

	events := collect(t, r)
	assert.Equal(t, []models.ProgressEvent{
		models.StatusEvent("one"),
		models.StatusEvent("two"),
		models.CompleteEvent("gs://b/report.pdf"),
	}, events)
	assert.True(t, r.Finished())
}

func TestProgressReporter_DetachNeverBlocks(t *testing.T) {
	r := NewProgressReporter(0) // unbuffered: every send needs a reader
	r.Detach()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			r.Status("working")
		}
		r.Error("failed")
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked after consumer detached")
	}
	_, open := <-r.Events()
	assert.False(t, open, "channel is closed after the terminal event")
}

func TestProgressReporter_DoneClosesOnTerminalEvenWhenDetached(t *testing.T) {
	r := NewProgressReporter(0)
	r.Detach()

	r.Status("still running")
	select {
	case <-r.Done():
		t.Fatal("Done closed before the terminal event")
	default:
	}

	r.Complete("https://signed.example/report.pdf")
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after the terminal event")
	}
}

func TestProgressReporter_DetachUnblocksPendingSend(t *testing.T) {
	r := NewProgressReporter(0)
	sent := make(chan struct{})
	go func() {
		r.Status("blocked until detach")
		close(sent)
	}()
	time.Sleep(20 * time.Millisecond)
	r.Detach()
	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("pending send was not released by Detach")
	}
}

func TestRun_Success(t *testing.T) {
	r := NewProgressReporter(8)
	go Run(r, nil, func() (string, error) {
		r.Status("step")
		return "https://signed.example/report.pdf", nil
	})
	events := collect(t, r)
	assertSingleTerminalLast(t, events)
	assert.Equal(t, models.CompleteEvent("https://signed.example/report.pdf"), events[len(events)-1])
}

func TestRun_ErrorUsesCategorisedMessage(t *testing.T) {
	r := NewProgressReporter(8)
	go Run(r, nil, func() (string, error) {
		return "", Stage("Extraction failed.", apperr.New(apperr.CategorySafety, "generate", errors.New("HARM_CATEGORY_DANGEROUS_CONTENT")))
	})
	events := collect(t, r)
	assertSingleTerminalLast(t, events)
	last := events[len(events)-1]
	assert.Equal(t, models.EventError, last.Kind)
	assert.Equal(t, apperr.UserMessage(apperr.ErrSafetyBlocked, ""), last.Message)
	assert.NotContains(t, last.Message, "HARM_CATEGORY")
}

func TestRun_GenericErrorUsesStageMessage(t *testing.T) {
	r := NewProgressReporter(8)
	go Run(r, nil, func() (string, error) {
		return "", Stage("The report content could not be generated.", errors.New("nil pointer in template"))
	})
	events := collect(t, r)
	assert.Equal(t, models.ErrorEvent("The report content could not be generated."), events[len(events)-1])
}

func TestRun_PanicAfterStatusStillTerminates(t *testing.T) {
	r := NewProgressReporter(8)
	go Run(r, nil, func() (string, error) {
		r.Status("about to fail")
		panic("boom")
	})
	events := collect(t, r)
	assertSingleTerminalLast(t, events)
	assert.Equal(t, models.EventError, events[len(events)-1].Kind)
	assert.NotContains(t, events[len(events)-1].Message, "boom")
}

func TestRun_EmptyLocatorIsAnError(t *testing.T) {
	r := NewProgressReporter(8)
	go Run(r, nil, func() (string, error) { return "", nil })
	events := collect(t, r)
	assertSingleTerminalLast(t, events)
	assert.Equal(t, models.EventError, events[0].Kind)
}
