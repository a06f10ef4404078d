package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := New(context.Background(), filepath.Join(t.TempDir(), "journal.db"), log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Errorf("Close: %v", closeErr)
		}
	})

	return db
}

func TestBeginMessageClaimsOnce(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	claimed, err := db.BeginMessage(ctx, "env-1", "agent1sender", "model:abc", time.Minute)
	if err != nil {
		t.Fatalf("BeginMessage: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first claim to succeed")
	}

	claimed, err = db.BeginMessage(ctx, "env-1", "agent1sender", "model:abc", time.Minute)
	if err != nil {
		t.Fatalf("BeginMessage: %v", err)
	}
	if claimed {
		t.Fatalf("expected duplicate claim to be rejected")
	}

	if err = db.FinishMessage(ctx, "env-1", StatusDone, ""); err != nil {
		t.Fatalf("FinishMessage: %v", err)
	}

	claimed, err = db.BeginMessage(ctx, "env-1", "agent1sender", "model:abc", time.Minute)
	if err != nil {
		t.Fatalf("BeginMessage: %v", err)
	}
	if claimed {
		t.Fatalf("expected finished message to stay claimed")
	}
}

func TestFinishMessageStoresOutcome(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	if _, err := db.BeginMessage(ctx, "env-2", "agent1sender", "model:abc", 0); err != nil {
		t.Fatalf("BeginMessage: %v", err)
	}

	if err := db.FinishMessage(ctx, "env-2", StatusFailed, "send reply: mailbox down"); err != nil {
		t.Fatalf("FinishMessage: %v", err)
	}

	m, err := db.GetMessage(ctx, "env-2")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}

	if m.Status != StatusFailed || m.Error != "send reply: mailbox down" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.Sender != "agent1sender" || m.SchemaDigest != "model:abc" {
		t.Fatalf("unexpected message metadata: %+v", m)
	}
	if m.FinishedAt.IsZero() {
		t.Fatalf("expected finish time to be set")
	}
}

func TestFinishMessageUnknownID(t *testing.T) {
	db := newTestDatabase(t)

	err := db.FinishMessage(context.Background(), "missing", StatusDone, "")
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestBeginMessageReclaimsStaleClaim(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour).Unix()
	_, err := db.db.ExecContext(ctx,
		`insert into processed_messages (id, sender, schema_digest, status, started_at)
		values (?, ?, ?, ?, ?)`,
		"env-3", "agent1sender", "model:abc", StatusProcessing, old)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	claimed, err := db.BeginMessage(ctx, "env-3", "agent1sender", "model:abc", time.Minute)
	if err != nil {
		t.Fatalf("BeginMessage: %v", err)
	}
	if !claimed {
		t.Fatalf("expected stale claim to be taken over")
	}
}

func TestPruneMessagesKeepsInFlight(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	for _, id := range []string{"done", "busy"} {
		if _, err := db.BeginMessage(ctx, id, "agent1sender", "model:abc", 0); err != nil {
			t.Fatalf("BeginMessage: %v", err)
		}
	}
	if err := db.FinishMessage(ctx, "done", StatusDone, ""); err != nil {
		t.Fatalf("FinishMessage: %v", err)
	}

	deleted, err := db.PruneMessages(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneMessages: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected one pruned row, got %d", deleted)
	}

	if _, err = db.GetMessage(ctx, "busy"); err != nil {
		t.Fatalf("expected in-flight message to remain: %v", err)
	}
	if _, err = db.GetMessage(ctx, "done"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected pruned message to be gone, got %v", err)
	}
}

func TestNewIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	for range 2 {
		db, err := New(context.Background(), path, log)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err = db.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestReleaseMessageAllowsNewClaim(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	if _, err := db.BeginMessage(ctx, "env-4", "agent1sender", "model:abc", time.Hour); err != nil {
		t.Fatalf("BeginMessage: %v", err)
	}

	if err := db.ReleaseMessage(ctx, "env-4"); err != nil {
		t.Fatalf("ReleaseMessage: %v", err)
	}

	claimed, err := db.BeginMessage(ctx, "env-4", "agent1sender", "model:abc", time.Hour)
	if err != nil {
		t.Fatalf("BeginMessage: %v", err)
	}
	if !claimed {
		t.Fatalf("expected released message to be claimable")
	}
}
