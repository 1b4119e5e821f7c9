package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zzxtbeta/rag-demo/internal/capabilities"
	"github.com/zzxtbeta/rag-demo/internal/config"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/chat"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/stream"
	"github.com/zzxtbeta/rag-demo/internal/repository/memory"
	"github.com/zzxtbeta/rag-demo/internal/service/history"
	"github.com/zzxtbeta/rag-demo/internal/service/llm"
	"github.com/zzxtbeta/rag-demo/internal/service/llm/providers/lorem"
	"github.com/zzxtbeta/rag-demo/internal/service/publisher"
	"github.com/zzxtbeta/rag-demo/internal/service/workflow"
)

type testEnv struct {
	handler *ThreadHandler
	log     *memory.EventLog
	turns   *memory.TurnStore
	mux     *http.ServeMux
}

func newTestEnv() *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	log := memory.NewEventLog(stream.RetentionPolicy{})
	turns := memory.NewTurnStore()
	pub := publisher.New(log, time.Second, logger)

	providers := llm.NewRegistry()
	providers.Register(lorem.NewProvider())

	cfg := &config.Config{DefaultModel: "lorem-test"}
	engine := workflow.NewEngine(turns, pub, providers, cfg, logger)
	reconciler := history.NewReconciler(logger)

	catalog, err := capabilities.NewRegistry()
	if err != nil {
		panic(err)
	}

	h := NewThreadHandler(turns, log, memory.NewTransactionManager(), reconciler, engine, catalog, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/threads/{id}/messages", h.PostMessage)
	mux.HandleFunc("GET /api/threads/{id}/history", h.GetHistory)
	mux.HandleFunc("PUT /api/threads/{id}/retention", h.UpdateRetention)
	mux.HandleFunc("DELETE /api/threads/{id}", h.DeleteThread)

	return &testEnv{handler: h, log: log, turns: turns, mux: mux}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func TestPostMessageValidation(t *testing.T) {
	env := newTestEnv()

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"missing message", "/api/threads/t1/messages", `{}`, http.StatusBadRequest},
		{"empty message", "/api/threads/t1/messages", `{"message":""}`, http.StatusBadRequest},
		{"malformed json", "/api/threads/t1/messages", `{`, http.StatusBadRequest},
		{"bad turn id", "/api/threads/t1/messages", `{"message":"hi","turn_id":"not-a-uuid"}`, http.StatusBadRequest},
		{"uncataloged model", "/api/threads/t1/messages", `{"message":"hi","model":"gpt-unknown"}`, http.StatusBadRequest},
		{"oversized message", "/api/threads/t1/messages",
			`{"message":"` + strings.Repeat("a", config.MaxMessageLength+1) + `"}`, http.StatusBadRequest},
		{"oversized thread id", "/api/threads/" + strings.Repeat("x", config.MaxThreadIDLength+1) + "/messages",
			`{"message":"hi"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body: %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestPostMessageAcceptsAndPersistsUserTurn(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/api/threads/t1/messages", `{"message":"hello","model":"lorem-test"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body: %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		ThreadID string `json:"thread_id"`
		TurnID   string `json:"turn_id"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ThreadID != "t1" || resp.Status != "accepted" {
		t.Errorf("response = %+v", resp)
	}
	if _, err := uuid.Parse(resp.TurnID); err != nil {
		t.Errorf("turn_id %q is not a UUID", resp.TurnID)
	}

	turns, err := env.turns.ListTurns(context.Background(), "t1")
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) == 0 || turns[0].Role != chat.RoleUser || turns[0].Content != "hello" {
		t.Errorf("user turn not persisted synchronously: %+v", turns)
	}
}

func TestPostMessageRetrySameTurnIDIsNoOp(t *testing.T) {
	env := newTestEnv()
	turnID := uuid.NewString()
	body := `{"message":"hello","turn_id":"` + turnID + `"}`

	if rec := env.do(http.MethodPost, "/api/threads/t1/messages", body); rec.Code != http.StatusAccepted {
		t.Fatalf("first post: %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/threads/t1/messages", body); rec.Code != http.StatusAccepted {
		t.Fatalf("retry post: %d", rec.Code)
	}

	turns, _ := env.turns.ListTurns(context.Background(), "t1")
	users := 0
	for _, turn := range turns {
		if turn.Role == chat.RoleUser {
			users++
		}
	}
	if users != 1 {
		t.Errorf("got %d user turns after retry, want 1", users)
	}
}

func TestGetHistoryReturnsReconciledTimeline(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_ = env.turns.AppendTurn(ctx, &chat.Turn{
		ID: uuid.NewString(), ThreadID: "t1", Role: chat.RoleUser,
		Content: "hi", CreatedAt: time.Now().UTC().Add(-time.Minute),
	})
	_ = env.turns.AppendTurn(ctx, &chat.Turn{
		ID: uuid.NewString(), ThreadID: "t1", Role: chat.RoleAssistant,
		Content: "hello", CreatedAt: time.Now().UTC(),
	})
	_, _ = env.log.Append(ctx, "t1", &stream.Event{
		NodeName: "generate", MessageType: stream.MessageTypeToken, Status: stream.StatusRunning,
	})

	rec := env.do(http.MethodGet, "/api/threads/t1/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		ThreadID string `json:"thread_id"`
		Timeline []struct {
			Turn  chat.Turn      `json:"turn"`
			Steps []stream.Event `json:"steps"`
		} `json:"timeline"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Timeline) != 2 {
		t.Fatalf("timeline length = %d, want 2", len(resp.Timeline))
	}
	if resp.Timeline[0].Turn.Role != chat.RoleUser {
		t.Errorf("first entry role = %s, want user", resp.Timeline[0].Turn.Role)
	}
	if len(resp.Timeline[1].Steps) != 1 {
		t.Errorf("assistant steps = %d, want 1", len(resp.Timeline[1].Steps))
	}
}

func TestUpdateRetention(t *testing.T) {
	env := newTestEnv()

	if rec := env.do(http.MethodPut, "/api/threads/t1/retention", `{"max_entries":0,"max_age_seconds":60}`); rec.Code != http.StatusBadRequest {
		t.Errorf("zero max_entries status = %d, want 400", rec.Code)
	}

	rec := env.do(http.MethodPut, "/api/threads/t1/retention", `{"max_entries":2,"max_age_seconds":3600}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body: %s)", rec.Code, rec.Body.String())
	}

	// The tightened policy takes effect on subsequent appends.
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = env.log.Append(ctx, "t1", &stream.Event{
			NodeName: "generate", MessageType: stream.MessageTypeToken, Status: stream.StatusRunning,
		})
	}
	events, err := env.log.ReadRange(ctx, "t1", nil, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("retained %d events, want 2", len(events))
	}
}

func TestDeleteThreadRemovesEverything(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_ = env.turns.AppendTurn(ctx, &chat.Turn{
		ID: uuid.NewString(), ThreadID: "t1", Role: chat.RoleUser,
		Content: "hi", CreatedAt: time.Now().UTC(),
	})
	_, _ = env.log.Append(ctx, "t1", &stream.Event{
		NodeName: "generate", MessageType: stream.MessageTypeToken, Status: stream.StatusRunning,
	})

	rec := env.do(http.MethodDelete, "/api/threads/t1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	turns, _ := env.turns.ListTurns(ctx, "t1")
	events, _ := env.log.ReadRange(ctx, "t1", nil, 0)
	if len(turns) != 0 || len(events) != 0 {
		t.Errorf("thread state survived deletion: %d turns, %d events", len(turns), len(events))
	}
}
