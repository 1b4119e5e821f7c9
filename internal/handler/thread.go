package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/zzxtbeta/rag-demo/internal/capabilities"
	"github.com/zzxtbeta/rag-demo/internal/config"
	"github.com/zzxtbeta/rag-demo/internal/domain"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/chat"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/stream"
	"github.com/zzxtbeta/rag-demo/internal/domain/repositories"
	"github.com/zzxtbeta/rag-demo/internal/httputil"
	"github.com/zzxtbeta/rag-demo/internal/service/history"
	"github.com/zzxtbeta/rag-demo/internal/service/workflow"
)

// workflowDeadline bounds a detached background run.
const workflowDeadline = 5 * time.Minute

// ThreadHandler serves the thread message, history, retention and deletion
// endpoints.
type ThreadHandler struct {
	turns      repositories.TurnStore
	log        repositories.EventLog
	txManager  repositories.TransactionManager
	reconciler *history.Reconciler
	engine     *workflow.Engine
	catalog    *capabilities.Registry
	logger     *slog.Logger
}

// NewThreadHandler creates a thread handler.
func NewThreadHandler(
	turns repositories.TurnStore,
	log repositories.EventLog,
	txManager repositories.TransactionManager,
	reconciler *history.Reconciler,
	engine *workflow.Engine,
	catalog *capabilities.Registry,
	logger *slog.Logger,
) *ThreadHandler {
	return &ThreadHandler{
		turns:      turns,
		log:        log,
		txManager:  txManager,
		reconciler: reconciler,
		engine:     engine,
		catalog:    catalog,
		logger:     logger,
	}
}

// PostMessageRequest is the body of POST /api/threads/{id}/messages.
type PostMessageRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
	// TurnID lets clients retry safely: a repeated ID is a no-op append.
	TurnID string `json:"turn_id,omitempty"`
}

// Validate implements request validation.
func (r PostMessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message,
			validation.Required,
			validation.Length(1, config.MaxMessageLength),
		),
		validation.Field(&r.Model, validation.Length(0, 128)),
	)
}

func validateThreadID(threadID string) error {
	if threadID == "" || len(threadID) > config.MaxThreadIDLength {
		return fmt.Errorf("%w: thread id must be 1-%d characters", domain.ErrValidation, config.MaxThreadIDLength)
	}
	return nil
}

// PostMessage handles POST /api/threads/{id}/messages.
//
// The user turn is persisted synchronously; generation runs in the
// background and is observed through the stream endpoint. Responds 202 with
// the turn ID.
func (h *ThreadHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if err := validateThreadID(threadID); err != nil {
		handleError(w, err)
		return
	}

	var req PostMessageRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		handleError(w, fmt.Errorf("%w: %s", domain.ErrValidation, err))
		return
	}

	if req.Model != "" && !h.catalog.KnownModel(req.Model) {
		handleError(w, fmt.Errorf("%w: unknown model '%s'", domain.ErrValidation, req.Model))
		return
	}

	turnID := req.TurnID
	if turnID == "" {
		turnID = uuid.NewString()
	} else if _, err := uuid.Parse(turnID); err != nil {
		handleError(w, fmt.Errorf("%w: turn_id must be a UUID", domain.ErrValidation))
		return
	}

	turn := &chat.Turn{
		ID:        turnID,
		ThreadID:  threadID,
		Role:      chat.RoleUser,
		Content:   req.Message,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.turns.AppendTurn(r.Context(), turn); err != nil {
		handleError(w, err)
		return
	}

	// The request returns immediately; the run reports through the event
	// log, not the response.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), workflowDeadline)
		defer cancel()

		if err := h.engine.Run(ctx, threadID, req.Model); err != nil {
			h.logger.Error("workflow run failed",
				"thread_id", threadID,
				"turn_id", turnID,
				"error", err,
			)
		}
	}()

	httputil.RespondJSON(w, http.StatusAccepted, map[string]interface{}{
		"thread_id":  threadID,
		"turn_id":    turnID,
		"status":     "accepted",
		"stream_url": fmt.Sprintf("/api/threads/%s/stream", threadID),
	})
}

// GetHistory handles GET /api/threads/{id}/history.
// Returns the reconciled timeline of turns with their workflow steps.
func (h *ThreadHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if err := validateThreadID(threadID); err != nil {
		handleError(w, err)
		return
	}

	turns, err := h.turns.ListTurns(r.Context(), threadID)
	if err != nil {
		handleError(w, err)
		return
	}

	backlog, err := h.log.ReadRange(r.Context(), threadID, nil, 0)
	if err != nil {
		// A degraded event log must not hide the transcript.
		h.logger.Warn("event backlog unavailable, returning turns without steps",
			"thread_id", threadID,
			"error", err,
		)
		backlog = nil
	}

	timeline := h.reconciler.Reconcile(turns, backlog)

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"thread_id": threadID,
		"timeline":  timeline,
	})
}

// RetentionRequest is the body of PUT /api/threads/{id}/retention.
type RetentionRequest struct {
	MaxEntries    int `json:"max_entries"`
	MaxAgeSeconds int `json:"max_age_seconds"`
}

// Validate implements request validation.
func (r RetentionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MaxEntries,
			validation.Required,
			validation.Min(1),
			validation.Max(config.MaxRetentionEntries),
		),
		validation.Field(&r.MaxAgeSeconds,
			validation.Required,
			validation.Min(1),
		),
	)
}

// UpdateRetention handles PUT /api/threads/{id}/retention.
func (h *ThreadHandler) UpdateRetention(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if err := validateThreadID(threadID); err != nil {
		handleError(w, err)
		return
	}

	var req RetentionRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		handleError(w, fmt.Errorf("%w: %s", domain.ErrValidation, err))
		return
	}

	policy := stream.RetentionPolicy{
		MaxEntries: req.MaxEntries,
		MaxAge:     time.Duration(req.MaxAgeSeconds) * time.Second,
	}
	if err := h.log.SetRetention(r.Context(), threadID, policy); err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"thread_id":       threadID,
		"max_entries":     req.MaxEntries,
		"max_age_seconds": req.MaxAgeSeconds,
	})
}

// DeleteThread handles DELETE /api/threads/{id}.
// Removes the transcript and the event log state for the thread.
func (h *ThreadHandler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if err := validateThreadID(threadID); err != nil {
		handleError(w, err)
		return
	}

	// Both stores drop the thread or neither does; a half-deleted thread
	// would resurrect orphaned events on the next reconciliation.
	err := h.txManager.ExecTx(r.Context(), func(ctx context.Context) error {
		if err := h.turns.DeleteThread(ctx, threadID); err != nil {
			return err
		}
		return h.log.DeleteThread(ctx, threadID)
	})
	if err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
