package workflow

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zzxtbeta/rag-demo/internal/config"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/chat"
	"github.com/zzxtbeta/rag-demo/internal/domain/models/stream"
	"github.com/zzxtbeta/rag-demo/internal/repository/memory"
	"github.com/zzxtbeta/rag-demo/internal/service/llm"
	"github.com/zzxtbeta/rag-demo/internal/service/llm/providers/lorem"
	"github.com/zzxtbeta/rag-demo/internal/service/publisher"
)

func testEngine() (*Engine, *memory.EventLog, *memory.TurnStore) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	log := memory.NewEventLog(stream.RetentionPolicy{})
	turns := memory.NewTurnStore()
	pub := publisher.New(log, time.Second, logger)

	providers := llm.NewRegistry()
	providers.Register(lorem.NewProvider())

	cfg := &config.Config{DefaultModel: "lorem-test"}
	return NewEngine(turns, pub, providers, cfg, logger), log, turns
}

func seedUserTurn(t *testing.T, turns *memory.TurnStore, threadID, content string) {
	t.Helper()
	err := turns.AppendTurn(context.Background(), &chat.Turn{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      chat.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed user turn: %v", err)
	}
}

func TestRunPublishesFullEventSequence(t *testing.T) {
	engine, log, turns := testEngine()
	seedUserTurn(t, turns, "t1", "tell me something")

	if err := engine.Run(context.Background(), "t1", "lorem-test"); err != nil {
		t.Fatalf("run: %v", err)
	}

	events, err := log.ReadRange(context.Background(), "t1", nil, 0)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(events) < 5 {
		t.Fatalf("got %d events, want at least start/output per node plus complete", len(events))
	}

	first := events[0]
	if first.NodeName != NodeQueryOrRespond || first.MessageType != stream.MessageTypeStart {
		t.Errorf("first event = %s/%s, want query_or_respond/start", first.NodeName, first.MessageType)
	}

	last := events[len(events)-1]
	if last.NodeName != stream.NodeWorkflow || last.MessageType != stream.MessageTypeComplete {
		t.Errorf("last event = %s/%s, want workflow/complete", last.NodeName, last.MessageType)
	}

	tokens := 0
	for _, ev := range events {
		if ev.MessageType == stream.MessageTypeToken {
			if ev.NodeName != NodeGenerate {
				t.Errorf("token published by %s, want generate", ev.NodeName)
			}
			tokens++
		}
	}
	if tokens == 0 {
		t.Error("no token events published")
	}

	payload := stream.DecodePayload(last.MessageType, last.Payload)
	done, ok := payload.(stream.CompletePayload)
	if !ok {
		t.Fatalf("terminal payload decoded as %T", payload)
	}
	if _, ok := done.NodeTimesMS[NodeGenerate]; !ok {
		t.Errorf("complete payload missing generate timing: %+v", done.NodeTimesMS)
	}
}

func TestRunWritesExactlyOneAssistantTurn(t *testing.T) {
	engine, _, turns := testEngine()
	seedUserTurn(t, turns, "t1", "hello")

	if err := engine.Run(context.Background(), "t1", "lorem-test"); err != nil {
		t.Fatalf("run: %v", err)
	}

	list, err := turns.ListTurns(context.Background(), "t1")
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d turns, want user + assistant", len(list))
	}

	assistant := list[1]
	if assistant.Role != chat.RoleAssistant {
		t.Errorf("second turn role = %s", assistant.Role)
	}
	if strings.TrimSpace(assistant.Content) == "" {
		t.Error("assistant content is empty")
	}
}

func TestRunUsesDefaultModelWhenUnset(t *testing.T) {
	engine, log, turns := testEngine()
	seedUserTurn(t, turns, "t1", "hello")

	if err := engine.Run(context.Background(), "t1", ""); err != nil {
		t.Fatalf("run with default model: %v", err)
	}

	events, _ := log.ReadRange(context.Background(), "t1", nil, 0)
	if len(events) == 0 {
		t.Fatal("no events published")
	}
}

func TestRunUnroutableModelPublishesErrorEvent(t *testing.T) {
	engine, log, turns := testEngine()
	seedUserTurn(t, turns, "t1", "hello")

	err := engine.Run(context.Background(), "t1", "claude-nonexistent")
	if err == nil {
		t.Fatal("expected error for unroutable model")
	}

	events, _ := log.ReadRange(context.Background(), "t1", nil, 0)
	if len(events) == 0 {
		t.Fatal("no events published")
	}
	last := events[len(events)-1]
	if last.MessageType != stream.MessageTypeError || last.Status != stream.StatusFailed {
		t.Errorf("terminal event = %s/%s, want error/failed", last.MessageType, last.Status)
	}

	payload := stream.DecodePayload(last.MessageType, last.Payload)
	failure, ok := payload.(stream.ErrorPayload)
	if !ok {
		t.Fatalf("error payload decoded as %T", payload)
	}
	if failure.ErrorType != "provider_error" {
		t.Errorf("error type = %q, want provider_error", failure.ErrorType)
	}

	// No assistant turn on failure.
	list, _ := turns.ListTurns(context.Background(), "t1")
	if len(list) != 1 {
		t.Errorf("got %d turns after failure, want only the user turn", len(list))
	}
}
