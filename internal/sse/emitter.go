// Package sse frames model.Event values onto an http.ResponseWriter as
// Server-Sent Events, and detects client disconnects so the caller can
// cancel the generation producing them (spec §4.4).
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/llmcompare/core/internal/domain/model"
)

// retryMillis is the reconnection delay advertised to clients via the
// initial "retry:" frame. Set well above any plausible network blip so a
// client's built-in EventSource reconnect logic doesn't hammer the server
// during a restart.
const retryMillis = 3_600_000

// Emitter writes SSE frames to one client connection.
type Emitter struct {
	w      http.ResponseWriter
	flush  func()
	logger *zap.Logger
}

// New prepares w for SSE: sets the required headers and writes the initial
// retry frame. Call Stream (or WriteEvent per event) afterward.
func New(w http.ResponseWriter, logger *zap.Logger) (*Emitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-store")
	h.Set("Connection", "keep-alive")
	// Disables response buffering on nginx-fronted deployments, which
	// would otherwise hold the whole stream until it closes.
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	e := &Emitter{w: w, flush: flusher.Flush, logger: logger}
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retryMillis); err != nil {
		return nil, err
	}
	e.flush()
	return e, nil
}

// WriteEvent frames a single model.Event as "event: <type>\ndata: <json>\n\n"
// and flushes it immediately.
func (e *Emitter) WriteEvent(ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sse: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return err
	}
	e.flush()
	return nil
}

// WriteHeartbeat emits both a typed heartbeat event and a bare comment line
// (": hb\n\n"), so clients watching only named SSE events and clients (or
// proxies) watching raw bytes both see liveness.
func (e *Emitter) WriteHeartbeat(modelID string) error {
	if err := e.WriteEvent(model.Event{Type: model.EventHeartbeat, ModelID: modelID, Timestamp: time.Now().UnixMilli()}); err != nil {
		return err
	}
	if _, err := fmt.Fprint(e.w, ": hb\n\n"); err != nil {
		return err
	}
	e.flush()
	return nil
}

// Stream drains events from ch, writing each as an SSE frame, until ch
// closes or the request context is done (client disconnect). onDisconnect,
// if non-nil, is invoked exactly once when the loop exits early because of a
// write failure or a done request context — the caller uses it to cancel
// the generation feeding events.
func Stream(e *Emitter, events <-chan model.Event, reqDone <-chan struct{}, onDisconnect func()) {
	disconnected := false
	for {
		// A done request context takes priority over pending or closed
		// events, so a disconnect is always reported.
		select {
		case <-reqDone:
			if onDisconnect != nil {
				onDisconnect()
			}
			drain(events)
			return
		default:
		}
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			var err error
			if ev.Type == model.EventHeartbeat {
				err = e.WriteHeartbeat(ev.ModelID)
			} else {
				err = e.WriteEvent(ev)
			}
			if err != nil {
				e.logger.Debug("sse write failed, client likely disconnected", zap.Error(err))
				disconnected = true
			}
			if disconnected {
				if onDisconnect != nil {
					onDisconnect()
				}
				drain(events)
				return
			}
		case <-reqDone:
			if onDisconnect != nil {
				onDisconnect()
			}
			drain(events)
			return
		}
	}
}

// drain consumes the rest of events without blocking the caller once a
// disconnect has already been detected, so the producing goroutines (which
// select on sending into this channel) don't leak waiting for a reader that
// will never come back.
func drain(events <-chan model.Event) {
	for range events {
	}
}

// HeartbeatTicker returns a ticker on the given interval, for handlers that
// want to interleave a connection-level keepalive independent of model
// activity.
func HeartbeatTicker(interval time.Duration) *time.Ticker {
	return time.NewTicker(interval)
}
