package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/zzxtbeta/rag-demo/internal/domain"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/stream"
	"github.com/zzxtbeta/rag-demo/internal/handler/sse"
	"github.com/zzxtbeta/rag-demo/internal/service/gateway"
)

// StreamHandler serves GET /api/threads/{id}/stream over Server-Sent Events.
type StreamHandler struct {
	gateway *gateway.Gateway
	sseCfg  *sse.Config
	logger  *slog.Logger
}

// NewStreamHandler creates an SSE stream handler.
func NewStreamHandler(gw *gateway.Gateway, sseCfg *sse.Config, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		gateway: gw,
		sseCfg:  sseCfg,
		logger:  logger,
	}
}

// streamFrame is the wire form of one delivered event.
type streamFrame struct {
	stream.Event
	IsHistory bool `json:"is_history"`
}

// resumeCursor reads the resumption cursor from the last_entry_id query
// parameter or, for EventSource auto-reconnect, the Last-Event-ID header.
// A nil cursor means full replay.
func resumeCursor(r *http.Request) (*int64, error) {
	raw := r.URL.Query().Get("last_entry_id")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return nil, nil
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return nil, fmt.Errorf("%w: last_entry_id must be a non-negative integer", domain.ErrValidation)
	}
	return &id, nil
}

// Stream handles GET /api/threads/{id}/stream.
//
// Replays the retained backlog (tagged is_history) and then follows the live
// tail until the client disconnects. An expired cursor still gets a 200:
// the stream is established, a history_expired event is sent, and the
// connection closes so the client refetches through the history endpoint.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if err := validateThreadID(threadID); err != nil {
		handleError(w, err)
		return
	}

	cursor, err := resumeCursor(r)
	if err != nil {
		handleError(w, err)
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		handleError(w, err)
		return
	}

	sub, err := h.gateway.Subscribe(r.Context(), threadID, cursor)
	if err != nil {
		if errors.Is(err, domain.ErrCursorExpired) {
			// EventSource clients retry transport errors forever; an
			// in-band event is the only way to tell them to stop.
			writer.Establish()
			data, _ := json.Marshal(map[string]interface{}{
				"error":     "requested entries no longer retained",
				"thread_id": threadID,
			})
			if werr := writer.WriteEvent(0, "history_expired", data); werr != nil {
				h.logger.Debug("client disconnected before history_expired", "thread_id", threadID)
			}
			return
		}
		handleError(w, err)
		return
	}
	defer sub.Close()

	writer.Establish()

	var cursorVal int64
	if cursor != nil {
		cursorVal = *cursor
	}
	h.logger.Info("stream established",
		"thread_id", threadID,
		"subscriber_id", sub.ID,
		"cursor", cursorVal,
	)

	ticker := time.NewTicker(h.sseCfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case d, ok := <-sub.Events():
			if !ok {
				h.logger.Debug("subscription closed, ending stream",
					"thread_id", threadID,
					"subscriber_id", sub.ID,
				)
				return
			}

			data, err := json.Marshal(streamFrame{Event: d.Event, IsHistory: d.IsHistory})
			if err != nil {
				h.logger.Error("event marshal failed",
					"thread_id", threadID,
					"entry_id", d.Event.EntryID,
					"error", err,
				)
				continue
			}
			if err := writer.WriteEvent(d.Event.EntryID, "workflow_event", data); err != nil {
				h.logger.Info("client disconnected during event write",
					"thread_id", threadID,
					"subscriber_id", sub.ID,
					"error", err,
				)
				return
			}

		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				h.logger.Info("client disconnected during keepalive",
					"thread_id", threadID,
					"subscriber_id", sub.ID,
					"error", err,
				)
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}
