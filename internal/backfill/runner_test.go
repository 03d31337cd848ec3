package backfill

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/chatsync/internal/store"
	"github.com/MikeSquared-Agency/chatsync/internal/syncer"
	"github.com/MikeSquared-Agency/chatsync/internal/transcript"
)

// Three conversations: one in January 2024, one in June 2024, one empty.
const exportJSON = `[
	{"id": "jan", "title": "January", "create_time": 1704153600, "update_time": 1704157200,
	 "mapping": {"a": {"message": {"author": {"role": "user"}, "content": {"content_type": "text", "parts": ["Hello"]}, "create_time": 1}},
	             "b": {"message": {"author": {"role": "assistant"}, "content": {"content_type": "text", "parts": ["Hi there!"]}, "create_time": 2}}}},
	{"conversation_id": "jun", "title": "June", "create_time": 1717243200,
	 "mapping": {"a": {"message": {"author": {"role": "user"}, "content": {"content_type": "text", "parts": ["Later"]}, "create_time": 1}}}},
	{"id": "empty", "title": "Empty", "update_time": 1717243200, "mapping": {"root": {"message": null}}},
	{"id": "broken", "mapping": 7}
]`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeExport(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conversations.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type fakeSyncer struct {
	mu      sync.Mutex
	batches [][]syncer.Prepared
}

func (f *fakeSyncer) SyncPrepared(ctx context.Context, items []syncer.Prepared) []syncer.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := append([]syncer.Prepared(nil), items...)
	f.batches = append(f.batches, batch)
	out := make([]syncer.Outcome, len(items))
	for i, it := range items {
		out[i] = syncer.Outcome{ChatID: it.ChatID, State: syncer.StateSucceeded}
	}
	return out
}

func TestReadExport(t *testing.T) {
	var ids []string
	invalid, err := ReadExport(strings.NewReader(exportJSON), quietLogger(), func(c *transcript.Conversation) error {
		ids = append(ids, c.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadExport: %v", err)
	}
	if strings.Join(ids, ",") != "jan,jun,empty" {
		t.Errorf("unexpected ids %v", ids)
	}
	if invalid != 1 {
		t.Errorf("expected 1 invalid entry, got %d", invalid)
	}
}

func TestReadExport_NotAnArray(t *testing.T) {
	_, err := ReadExport(strings.NewReader(`{"id": "x"}`), quietLogger(), func(*transcript.Conversation) error { return nil })
	if err == nil {
		t.Error("expected error for non-array export")
	}
}

func TestRun_UploadsInBatches(t *testing.T) {
	sy := &fakeSyncer{}
	r := NewRunner(Config{ExportPath: writeExport(t, exportJSON), BatchSize: 1}, sy, store.NewMemoryStore(), quietLogger())

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Read != 3 || rep.Invalid != 1 {
		t.Errorf("unexpected read counts %+v", rep)
	}
	if rep.Filtered != 1 {
		t.Errorf("expected empty conversation filtered, got %d", rep.Filtered)
	}
	if rep.Succeeded != 2 {
		t.Errorf("expected 2 uploads, got %d", rep.Succeeded)
	}
	if len(sy.batches) != 2 {
		t.Errorf("expected batch size 1 to give 2 batches, got %d", len(sy.batches))
	}
	if sy.batches[0][0].Conversation.Title != "January" {
		t.Errorf("expected conversation carried through, got %+v", sy.batches[0][0])
	}
}

func TestRun_DateRange(t *testing.T) {
	sy := &fakeSyncer{}
	cfg := Config{
		ExportPath: writeExport(t, exportJSON),
		Since:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	rep, err := NewRunner(cfg, sy, store.NewMemoryStore(), quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Succeeded != 1 {
		t.Fatalf("expected only the June conversation, got %+v", rep)
	}
	if sy.batches[0][0].ChatID != "jun" {
		t.Errorf("expected jun, got %s", sy.batches[0][0].ChatID)
	}
}

func TestRun_DryRunUsesState(t *testing.T) {
	st := store.NewMemoryStore()
	// Fingerprint of "user:Hello\nassistant:Hi there!".
	st.SetLast(context.Background(), "jan", "7vyhaf")

	sy := &fakeSyncer{}
	rep, err := NewRunner(Config{ExportPath: writeExport(t, exportJSON), DryRun: true}, sy, st, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Unchanged != 1 || rep.WouldUpload != 1 {
		t.Errorf("unexpected dry run counts %+v", rep)
	}
	if len(sy.batches) != 0 {
		t.Error("dry run must not upload")
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(Config{ExportPath: writeExport(t, exportJSON)}, &fakeSyncer{}, store.NewMemoryStore(), quietLogger()).Run(ctx)
	if err == nil {
		t.Error("expected context error")
	}
}

func TestRun_MissingExport(t *testing.T) {
	_, err := NewRunner(Config{ExportPath: filepath.Join(t.TempDir(), "nope.json")}, &fakeSyncer{}, store.NewMemoryStore(), quietLogger()).Run(context.Background())
	if err == nil {
		t.Error("expected error for missing export")
	}
}
