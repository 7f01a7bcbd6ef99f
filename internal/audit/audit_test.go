package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gigster/internal/models"
)

type recordingStore struct {
	events []models.AuditEvent
	err    error
}

func (s *recordingStore) Create(_ context.Context, ev *models.AuditEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, *ev)
	return nil
}

func TestEmitPersists(t *testing.T) {
	store := &recordingStore{}
	a := New(store, zap.NewNop())

	a.Emit(context.Background(), RLOverrideSet, "alice", "x", map[string]interface{}{"factor": 2.0, "minutes": 30})

	if len(store.events) != 1 {
		t.Fatalf("stored %d events, want 1", len(store.events))
	}
	ev := store.events[0]
	if ev.Event != RLOverrideSet || ev.Actor != "alice" || ev.Subject != "x" {
		t.Errorf("event = %+v", ev)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["factor"] != 2.0 || payload["minutes"] != 30.0 {
		t.Errorf("payload = %v", payload)
	}
	if ev.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestEmitDefaultsActorAndSurvivesStoreError(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	store := &recordingStore{err: errors.New("db down")}
	a := New(store, zap.New(core))

	a.Emit(context.Background(), QueuePosted, "", "job-1", nil)

	if got := logs.FilterMessage("audit").All(); len(got) != 1 || got[0].ContextMap()["actor"] != SystemActor {
		t.Errorf("audit log entries = %v", got)
	}
	if logs.FilterMessage("Failed to persist audit event").Len() != 1 {
		t.Error("store error was not logged")
	}
}
