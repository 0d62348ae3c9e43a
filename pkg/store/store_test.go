//go:build integration

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *GORMStore {
	t.Helper()
	store, err := New(&Config{
		Type: DatabaseTypeSQLite,
		SQLite: SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	return store
}

func TestNew(t *testing.T) {
	t.Run("default config uses sqlite", func(t *testing.T) {
		config := &Config{}
		config.ApplyDefaults()

		if config.Type != DatabaseTypeSQLite {
			t.Errorf("expected SQLite, got %s", config.Type)
		}
	})

	t.Run("invalid config returns error", func(t *testing.T) {
		config := &Config{
			Type: "invalid",
		}
		_, err := New(config)
		if err == nil {
			t.Error("expected error for invalid config")
		}
	})

	t.Run("creates in-memory store", func(t *testing.T) {
		store := createTestStore(t)
		defer store.Close()

		if store == nil {
			t.Error("expected non-nil store")
		}
	})
}

func TestUserOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	t.Run("create user", func(t *testing.T) {
		user := &models.User{
			Username: "alice",
			Color:    models.ColorForIndex(0),
		}

		id, err := store.CreateUser(ctx, user)
		if err != nil {
			t.Fatalf("failed to create user: %v", err)
		}
		if id == "" {
			t.Error("expected non-empty user ID")
		}
	})

	t.Run("duplicate user fails", func(t *testing.T) {
		user := &models.User{Username: "alice"}

		_, err := store.CreateUser(ctx, user)
		if !errors.Is(err, models.ErrDuplicateUser) {
			t.Errorf("expected ErrDuplicateUser, got %v", err)
		}
	})

	t.Run("get user not found", func(t *testing.T) {
		_, err := store.GetUser(ctx, "nonexistent")
		if !errors.Is(err, models.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("get or create resolves existing", func(t *testing.T) {
		user, err := store.GetOrCreateUser(ctx, "alice")
		if err != nil {
			t.Fatalf("failed to resolve user: %v", err)
		}
		if user.Username != "alice" {
			t.Errorf("expected username 'alice', got %q", user.Username)
		}
	})

	t.Run("get or create mints palette color", func(t *testing.T) {
		user, err := store.GetOrCreateUser(ctx, "bob")
		if err != nil {
			t.Fatalf("failed to create user: %v", err)
		}
		if user.Color != models.ColorForIndex(1) {
			t.Errorf("expected second palette color %q, got %q", models.ColorForIndex(1), user.Color)
		}
	})
}

func TestCanvasOperations(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	t.Run("create and get canvas", func(t *testing.T) {
		id, err := store.CreateCanvas(ctx, &models.Canvas{
			Name:    "whiteboard",
			OwnerID: "user-1",
		})
		if err != nil {
			t.Fatalf("failed to create canvas: %v", err)
		}

		canvas, err := store.GetCanvas(ctx, id)
		if err != nil {
			t.Fatalf("failed to get canvas: %v", err)
		}
		if canvas.Name != "whiteboard" {
			t.Errorf("expected name 'whiteboard', got %q", canvas.Name)
		}
	})

	t.Run("save canvas data bumps last modified", func(t *testing.T) {
		id, _ := store.CreateCanvas(ctx, &models.Canvas{Name: "scene"})
		before, _ := store.GetCanvas(ctx, id)

		time.Sleep(5 * time.Millisecond)
		if err := store.SaveCanvasData(ctx, id, []byte(`{"nodes":{},"version":3}`)); err != nil {
			t.Fatalf("failed to save canvas data: %v", err)
		}

		after, _ := store.GetCanvas(ctx, id)
		if !after.LastModified.After(before.LastModified) {
			t.Error("expected last_modified to advance")
		}
		if string(after.CanvasData) != `{"nodes":{},"version":3}` {
			t.Errorf("unexpected canvas data: %s", after.CanvasData)
		}
	})

	t.Run("delete canvas cascades", func(t *testing.T) {
		id, _ := store.CreateCanvas(ctx, &models.Canvas{Name: "doomed"})
		_ = store.RecordOperation(ctx, &models.Operation{
			ID:       "op-cascade",
			Type:     "node_create",
			CanvasID: id,
			UserID:   "user-1",
		})

		if err := store.DeleteCanvas(ctx, id); err != nil {
			t.Fatalf("failed to delete canvas: %v", err)
		}

		ops, err := store.ListCanvasOperations(ctx, id)
		if err != nil {
			t.Fatalf("failed to list operations: %v", err)
		}
		if len(ops) != 0 {
			t.Errorf("expected 0 operations after cascade, got %d", len(ops))
		}
	})

	t.Run("delete canvas not found", func(t *testing.T) {
		err := store.DeleteCanvas(ctx, "missing")
		if !errors.Is(err, models.ErrCanvasNotFound) {
			t.Errorf("expected ErrCanvasNotFound, got %v", err)
		}
	})
}

func TestOperationLog(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	canvasID, _ := store.CreateCanvas(ctx, &models.Canvas{Name: "ops"})

	record := func(t *testing.T, id string, seq int64, userID string) {
		t.Helper()
		err := store.RecordOperation(ctx, &models.Operation{
			ID:             id,
			Type:           "node_move",
			Params:         []byte(`{"id":1,"position":[10,20]}`),
			UserID:         userID,
			CanvasID:       canvasID,
			SequenceNumber: seq,
		})
		if err != nil {
			t.Fatalf("failed to record operation %s: %v", id, err)
		}
	}

	t.Run("record defaults to applied", func(t *testing.T) {
		record(t, "op-1", 1, "user-1")

		op, err := store.GetOperation(ctx, "op-1")
		if err != nil {
			t.Fatalf("failed to get operation: %v", err)
		}
		if !op.IsApplied() {
			t.Errorf("expected applied state, got %q", op.State)
		}
	})

	t.Run("list canvas operations in sequence order", func(t *testing.T) {
		record(t, "op-3", 3, "user-2")
		record(t, "op-2", 2, "user-1")

		ops, err := store.ListCanvasOperations(ctx, canvasID)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(ops) != 3 {
			t.Fatalf("expected 3 operations, got %d", len(ops))
		}
		for i, want := range []int64{1, 2, 3} {
			if ops[i].SequenceNumber != want {
				t.Errorf("position %d: expected sequence %d, got %d", i, want, ops[i].SequenceNumber)
			}
		}
	})

	t.Run("mark undone and redone", func(t *testing.T) {
		now := time.Now()
		if err := store.MarkUndone(ctx, "op-2", "user-1", now); err != nil {
			t.Fatalf("failed to mark undone: %v", err)
		}

		op, _ := store.GetOperation(ctx, "op-2")
		if op.State != models.OperationUndone {
			t.Errorf("expected undone, got %q", op.State)
		}
		if op.UndoneBy != "user-1" {
			t.Errorf("expected undone_by user-1, got %q", op.UndoneBy)
		}

		if err := store.MarkRedone(ctx, "op-2", "user-1", time.Now()); err != nil {
			t.Fatalf("failed to mark redone: %v", err)
		}
		op, _ = store.GetOperation(ctx, "op-2")
		if !op.IsApplied() {
			t.Errorf("expected applied after redo, got %q", op.State)
		}
	})

	t.Run("list user operations filtered by state", func(t *testing.T) {
		_ = store.MarkUndone(ctx, "op-1", "user-1", time.Now())

		applied, err := store.ListUserOperations(ctx, canvasID, "user-1", models.OperationApplied)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(applied) != 1 || applied[0].ID != "op-2" {
			t.Errorf("expected only op-2 applied, got %v", applied)
		}

		undone, _ := store.ListUserOperations(ctx, canvasID, "user-1", models.OperationUndone)
		if len(undone) != 1 || undone[0].ID != "op-1" {
			t.Errorf("expected only op-1 undone, got %v", undone)
		}
	})

	t.Run("max sequence number", func(t *testing.T) {
		max, err := store.MaxSequenceNumber(ctx, canvasID)
		if err != nil {
			t.Fatalf("failed to read max sequence: %v", err)
		}
		if max != 3 {
			t.Errorf("expected max sequence 3, got %d", max)
		}

		empty, _ := store.MaxSequenceNumber(ctx, "no-such-canvas")
		if empty != 0 {
			t.Errorf("expected 0 for empty canvas, got %d", empty)
		}
	})

	t.Run("clear canvas operations", func(t *testing.T) {
		removed, err := store.ClearCanvasOperations(ctx, canvasID)
		if err != nil {
			t.Fatalf("failed to clear: %v", err)
		}
		if removed != 3 {
			t.Errorf("expected 3 rows removed, got %d", removed)
		}
	})
}

func TestFileMetadata(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	file := &models.File{
		Filename:     "1724500000000-k3x9.png",
		OriginalName: "diagram.png",
		MimeType:     "image/png",
		Size:         2048,
		Hash:         "abc123",
		UserID:       "user-1",
	}

	t.Run("create and lookup by hash", func(t *testing.T) {
		if err := store.CreateFile(ctx, file); err != nil {
			t.Fatalf("failed to create file: %v", err)
		}

		found, err := store.GetFileByHash(ctx, "abc123")
		if err != nil {
			t.Fatalf("failed to get by hash: %v", err)
		}
		if found.Filename != file.Filename {
			t.Errorf("expected %q, got %q", file.Filename, found.Filename)
		}
	})

	t.Run("hash refcount", func(t *testing.T) {
		dup := *file
		dup.Filename = "1724500001000-m2p1.png"
		if err := store.CreateFile(ctx, &dup); err != nil {
			t.Fatalf("failed to create dup: %v", err)
		}

		count, err := store.CountFilesWithHash(ctx, "abc123")
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		if count != 2 {
			t.Errorf("expected refcount 2, got %d", count)
		}
	})

	t.Run("processing status lifecycle", func(t *testing.T) {
		if err := store.UpdateProcessingStatus(ctx, file.Filename, models.ProcessingActive, ""); err != nil {
			t.Fatalf("failed to update status: %v", err)
		}
		if err := store.UpdateProcessingStatus(ctx, file.Filename, models.ProcessingFailed, "encoder exited 1"); err != nil {
			t.Fatalf("failed to update status: %v", err)
		}

		got, _ := store.GetFile(ctx, file.Filename)
		if got.ProcessingStatus != models.ProcessingFailed {
			t.Errorf("expected failed, got %q", got.ProcessingStatus)
		}
		if got.ProcessingError != "encoder exited 1" {
			t.Errorf("unexpected processing error: %q", got.ProcessingError)
		}
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := store.GetFile(ctx, "missing.png")
		if !errors.Is(err, models.ErrFileNotFound) {
			t.Errorf("expected ErrFileNotFound, got %v", err)
		}
	})
}

func TestTransactions(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	t.Run("begin and append", func(t *testing.T) {
		id, err := store.BeginTransaction(ctx, &models.ActiveTransaction{
			UserID:   "user-1",
			CanvasID: "canvas-1",
			Source:   "drag",
		})
		if err != nil {
			t.Fatalf("failed to begin transaction: %v", err)
		}

		if err := store.AppendTransactionOp(ctx, id, "op-1"); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
		if err := store.AppendTransactionOp(ctx, id, "op-2"); err != nil {
			t.Fatalf("failed to append: %v", err)
		}

		txn, _ := store.GetTransaction(ctx, id)
		ids := txn.OperationIDs()
		if len(ids) != 2 || ids[0] != "op-1" || ids[1] != "op-2" {
			t.Errorf("unexpected operation ids: %v", ids)
		}
	})

	t.Run("second begin on same pair fails", func(t *testing.T) {
		_, err := store.BeginTransaction(ctx, &models.ActiveTransaction{
			UserID:   "user-1",
			CanvasID: "canvas-1",
		})
		if !errors.Is(err, models.ErrTransactionActive) {
			t.Errorf("expected ErrTransactionActive, got %v", err)
		}
	})

	t.Run("commit closes the transaction", func(t *testing.T) {
		txn, err := store.GetActiveTransaction(ctx, "user-1", "canvas-1")
		if err != nil {
			t.Fatalf("failed to get active transaction: %v", err)
		}

		if err := store.CloseTransaction(ctx, txn.ID, models.TransactionCommitted); err != nil {
			t.Fatalf("failed to close: %v", err)
		}

		_, err = store.GetActiveTransaction(ctx, "user-1", "canvas-1")
		if !errors.Is(err, models.ErrTransactionNotFound) {
			t.Errorf("expected no active transaction, got %v", err)
		}
	})

	t.Run("double close fails", func(t *testing.T) {
		id, _ := store.BeginTransaction(ctx, &models.ActiveTransaction{
			UserID:   "user-2",
			CanvasID: "canvas-1",
		})
		_ = store.CloseTransaction(ctx, id, models.TransactionAborted)

		err := store.CloseTransaction(ctx, id, models.TransactionCommitted)
		if !errors.Is(err, models.ErrTransactionNotFound) {
			t.Errorf("expected ErrTransactionNotFound, got %v", err)
		}
	})
}

func TestViewportState(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	t.Run("save and read back", func(t *testing.T) {
		err := store.SaveViewport(ctx, &models.UserViewportState{
			UserID:   "user-1",
			CanvasID: "canvas-1",
			Scale:    1.5,
			OffsetX:  -200,
			OffsetY:  80,
		})
		if err != nil {
			t.Fatalf("failed to save viewport: %v", err)
		}

		state, err := store.GetViewport(ctx, "user-1", "canvas-1")
		if err != nil {
			t.Fatalf("failed to get viewport: %v", err)
		}
		if state.Scale != 1.5 {
			t.Errorf("expected scale 1.5, got %v", state.Scale)
		}
	})

	t.Run("save overwrites", func(t *testing.T) {
		_ = store.SaveViewport(ctx, &models.UserViewportState{
			UserID:   "user-1",
			CanvasID: "canvas-1",
			Scale:    2.0,
		})

		state, _ := store.GetViewport(ctx, "user-1", "canvas-1")
		if state.Scale != 2.0 {
			t.Errorf("expected scale 2.0, got %v", state.Scale)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.GetViewport(ctx, "user-9", "canvas-9")
		if !errors.Is(err, models.ErrViewportNotFound) {
			t.Errorf("expected ErrViewportNotFound, got %v", err)
		}
	})
}

func TestMaintenance(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	_, _ = store.CreateUser(ctx, &models.User{Username: "alice"})
	canvasID, _ := store.CreateCanvas(ctx, &models.Canvas{Name: "scene"})
	_ = store.RecordOperation(ctx, &models.Operation{ID: "op-1", Type: "node_create", CanvasID: canvasID})
	_ = store.CreateFile(ctx, &models.File{Filename: "f.png", Hash: "h1"})

	t.Run("counts", func(t *testing.T) {
		counts, err := store.Counts(ctx)
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		if counts.Users != 1 || counts.Canvases != 1 || counts.Operations != 1 || counts.Files != 1 {
			t.Errorf("unexpected counts: %+v", counts)
		}
	})

	t.Run("wipe empties every table", func(t *testing.T) {
		if err := store.Wipe(ctx); err != nil {
			t.Fatalf("failed to wipe: %v", err)
		}

		counts, _ := store.Counts(ctx)
		if counts.Users != 0 || counts.Canvases != 0 || counts.Operations != 0 || counts.Files != 0 {
			t.Errorf("expected empty tables after wipe: %+v", counts)
		}
	})
}
