package store

import (
	"errors"
	"testing"
)

func TestEnqueueDedupRaisesPriority(t *testing.T) {
	db := testDB(t)
	node := createTestNode(t, db, "a", "person")

	first, err := db.Enqueue(node.ID, 3, "batch-1", 3)
	if err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}

	second, err := db.Enqueue(node.ID, 7, "batch-2", 3)
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("second enqueue created entry %d, want reuse of %d", second.ID, first.ID)
	}
	if second.Priority != 7 {
		t.Errorf("priority = %d, want 7", second.Priority)
	}
	if second.BatchID != "batch-2" {
		t.Errorf("batch_id = %q, want batch-2", second.BatchID)
	}

	depth, _ := db.QueueDepth()
	if depth != 1 {
		t.Errorf("queue depth = %d, want exactly 1", depth)
	}
}

func TestEnqueueDedupNeverLowersPriority(t *testing.T) {
	db := testDB(t)
	node := createTestNode(t, db, "a", "person")

	db.Enqueue(node.ID, 8, "batch-1", 3)
	entry, err := db.Enqueue(node.ID, 2, "batch-2", 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if entry.Priority != 8 {
		t.Errorf("priority = %d, want max(8,2) = 8", entry.Priority)
	}
}

func TestEnqueueValidation(t *testing.T) {
	db := testDB(t)
	node := createTestNode(t, db, "a", "person")

	if _, err := db.Enqueue(node.ID, 0, "b", 3); !errors.Is(err, ErrValidation) {
		t.Errorf("priority 0: err = %v, want ErrValidation", err)
	}
	if _, err := db.Enqueue(node.ID, 11, "b", 3); !errors.Is(err, ErrValidation) {
		t.Errorf("priority 11: err = %v, want ErrValidation", err)
	}
	if _, err := db.Enqueue(node.ID, 5, "", 3); !errors.Is(err, ErrValidation) {
		t.Errorf("empty batch: err = %v, want ErrValidation", err)
	}
	if _, err := db.Enqueue(999, 5, "b", 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing node: err = %v, want ErrNotFound", err)
	}
}

func TestDequeueBatchOrder(t *testing.T) {
	db := testDB(t)

	low := createTestNode(t, db, "low", "person")
	high := createTestNode(t, db, "high", "person")
	mid := createTestNode(t, db, "mid", "person")

	db.Enqueue(low.ID, 2, "b", 3)
	db.Enqueue(high.ID, 9, "b", 3)
	db.Enqueue(mid.ID, 5, "b", 3)

	entries, err := db.DequeueBatch(10)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].NodeID != high.ID || entries[1].NodeID != mid.ID || entries[2].NodeID != low.ID {
		t.Errorf("order = [%d %d %d], want priority desc", entries[0].NodeID, entries[1].NodeID, entries[2].NodeID)
	}
	for _, e := range entries {
		if e.Status != StatusProcessing {
			t.Errorf("entry %d status = %q, want processing", e.ID, e.Status)
		}
	}

	depth, _ := db.QueueDepth()
	if depth != 0 {
		t.Errorf("depth after dequeue = %d, want 0", depth)
	}
}

func TestDequeueBatchLimit(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 5; i++ {
		n := createTestNode(t, db, "n", "person")
		db.Enqueue(n.ID, 5, "b", 3)
	}

	entries, err := db.DequeueBatch(2)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("len = %d, want 2", len(entries))
	}
}

func TestMarkCompleted(t *testing.T) {
	db := testDB(t)
	node := createTestNode(t, db, "a", "person")
	db.Enqueue(node.ID, 5, "b", 3)

	entries, _ := db.DequeueBatch(1)
	if err := db.MarkCompleted(entries[0].ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	entry, _ := db.GetQueueEntry(entries[0].ID)
	if entry.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", entry.Status)
	}

	// A completed entry no longer blocks re-enqueueing.
	fresh, err := db.Enqueue(node.ID, 4, "b2", 3)
	if err != nil {
		t.Fatalf("re-enqueue after completion: %v", err)
	}
	if fresh.ID == entries[0].ID {
		t.Error("expected a new entry after completion")
	}
}

func TestMarkFailedRetriesThenFails(t *testing.T) {
	db := testDB(t)
	node := createTestNode(t, db, "a", "person")
	db.Enqueue(node.ID, 5, "b", 2)

	entries, _ := db.DequeueBatch(1)
	id := entries[0].ID

	retrying, err := db.MarkFailed(id)
	if err != nil {
		t.Fatalf("first MarkFailed: %v", err)
	}
	if !retrying {
		t.Fatal("retry_count 1 < max 2: expected retry")
	}
	entry, _ := db.GetQueueEntry(id)
	if entry.Status != StatusPending || entry.RetryCount != 1 {
		t.Errorf("entry = %+v, want pending retry_count=1", entry)
	}

	db.DequeueBatch(1)
	retrying, err = db.MarkFailed(id)
	if err != nil {
		t.Fatalf("second MarkFailed: %v", err)
	}
	if retrying {
		t.Error("retry_count 2 == max 2: expected permanent failure")
	}
	entry, _ = db.GetQueueEntry(id)
	if entry.Status != StatusFailed {
		t.Errorf("status = %q, want failed", entry.Status)
	}
}

func TestCancelBatch(t *testing.T) {
	db := testDB(t)

	a := createTestNode(t, db, "a", "person")
	b := createTestNode(t, db, "b", "person")
	c := createTestNode(t, db, "c", "person")

	db.Enqueue(a.ID, 5, "batch-x", 3)
	db.Enqueue(b.ID, 5, "batch-x", 3)
	db.Enqueue(c.ID, 5, "batch-y", 3)

	n, err := db.CancelBatch("batch-x")
	if err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}
	if n != 2 {
		t.Errorf("cancelled = %d, want 2", n)
	}

	depth, _ := db.QueueDepth()
	if depth != 1 {
		t.Errorf("depth = %d, want 1 (batch-y untouched)", depth)
	}
}

func TestRequeue(t *testing.T) {
	db := testDB(t)
	node := createTestNode(t, db, "a", "person")
	db.Enqueue(node.ID, 5, "b", 3)

	entries, _ := db.DequeueBatch(1)
	if err := db.Requeue(entries[0].ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	entry, _ := db.GetQueueEntry(entries[0].ID)
	if entry.Status != StatusPending || entry.RetryCount != 0 {
		t.Errorf("entry = %+v, want pending with no retry charged", entry)
	}
}
