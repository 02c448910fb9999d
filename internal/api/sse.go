package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/Lllllllleong/engineeringdocs/internal/services"
)

const defaultHeartbeat = 15 * time.Second

// writeEvent frames one progress event for an EventSource client.
func writeEvent(w io.Writer, ev models.ProgressEvent) error {
	var name string
	var payload any
	switch ev.Kind {
	case models.EventStatus:
		payload = map[string]string{"status": ev.Text}
	case models.EventComplete:
		name, payload = "complete", map[string]string{"url": ev.Locator}
	case models.EventError:
		name, payload = "error", map[string]string{"message": ev.Message}
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// streamProgress relays reporter events until a terminal event is written or
// the client goes away, in which case the reporter is detached and the run
// continues without a listener.
func streamProgress(ctx context.Context, w http.ResponseWriter, reporter *services.ProgressReporter, heartbeat time.Duration, log *slog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		reporter.Detach()
		respondError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported.")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	events := reporter.Events()
	for {
		select {
		case <-ctx.Done():
			log.Info("Report stream client disconnected.", "error", ctx.Err())
			reporter.Detach()
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				reporter.Detach()
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				log.Warn("Failed to write report event.", "error", err)
				reporter.Detach()
				return
			}
			flusher.Flush()
			if ev.IsTerminal() {
				return
			}
		}
	}
}
