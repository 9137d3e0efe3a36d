package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"railguard/models"
)

// flakyRemote fails Submit for configured pillar ids.
type flakyRemote struct {
	mu        sync.Mutex
	failFor   map[string]bool
	submitted []string
}

func (r *flakyRemote) Submit(ctx context.Context, record models.AlertRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[record.PillarID] {
		return errors.New("remote unavailable")
	}
	r.submitted = append(r.submitted, record.PillarID)
	return nil
}

func (r *flakyRemote) submittedPillars() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.submitted))
	copy(out, r.submitted)
	return out
}

func TestSyncDrainKeepsFailedItemsPending(t *testing.T) {
	store := testStore(t)
	remote := &flakyRemote{failFor: map[string]bool{"P2": true}}
	svc := NewSyncService(zap.NewNop(), store, remote)
	ctx := context.Background()

	for _, pillar := range []string{"P1", "P2", "P3"} {
		record := testRecord(pillar, "T-100")
		if _, err := store.SaveFirstAlert(ctx, record); err != nil {
			t.Fatal(err)
		}
		if err := svc.Enqueue(ctx, record); err != nil {
			t.Fatal(err)
		}
	}

	synced, failed, err := svc.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if synced != 2 || failed != 1 {
		t.Errorf("drain = (%d synced, %d failed), want (2, 1)", synced, failed)
	}

	pending, err := svc.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d items, want 1", len(pending))
	}
	if pending[0].Record.PillarID != "P2" {
		t.Errorf("pending item pillar = %q, want P2", pending[0].Record.PillarID)
	}
	if pending[0].Attempts != 1 {
		t.Errorf("pending item attempts = %d, want 1", pending[0].Attempts)
	}
}

func TestSyncDrainRetrySucceedsAfterRecovery(t *testing.T) {
	store := testStore(t)
	remote := &flakyRemote{failFor: map[string]bool{"P1": true}}
	svc := NewSyncService(zap.NewNop(), store, remote)
	ctx := context.Background()

	record := testRecord("P1", "T-100")
	if _, err := store.SaveFirstAlert(ctx, record); err != nil {
		t.Fatal(err)
	}
	if err := svc.Enqueue(ctx, record); err != nil {
		t.Fatal(err)
	}

	if synced, failed, _ := svc.Drain(ctx); synced != 0 || failed != 1 {
		t.Fatalf("offline drain = (%d, %d), want (0, 1)", synced, failed)
	}

	// Remote recovers; the retry drains the same item.
	remote.mu.Lock()
	remote.failFor = nil
	remote.mu.Unlock()

	if synced, failed, _ := svc.Drain(ctx); synced != 1 || failed != 0 {
		t.Fatalf("recovered drain = (%d, %d), want (1, 0)", synced, failed)
	}

	pending, _ := svc.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("queue still holds %d items after recovery", len(pending))
	}

	// The stored alert is now marked synced.
	alerts, err := store.Alerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].SyncState != models.SyncSynced {
		t.Errorf("alert sync state = %q, want %q", alerts[0].SyncState, models.SyncSynced)
	}
}

func TestSyncDrainPreservesFIFOOrder(t *testing.T) {
	store := testStore(t)
	remote := &flakyRemote{}
	svc := NewSyncService(zap.NewNop(), store, remote)
	ctx := context.Background()

	order := []string{"P3", "P1", "P2"}
	for _, pillar := range order {
		if err := svc.Enqueue(ctx, testRecord(pillar, "T-100")); err != nil {
			t.Fatal(err)
		}
	}

	if _, _, err := svc.Drain(ctx); err != nil {
		t.Fatal(err)
	}

	got := remote.submittedPillars()
	if len(got) != len(order) {
		t.Fatalf("submitted %d items, want %d", len(got), len(order))
	}
	for i, pillar := range order {
		if got[i] != pillar {
			t.Errorf("submit order[%d] = %q, want %q", i, got[i], pillar)
		}
	}
}

func TestSyncDrainWithoutRemoteIsNoop(t *testing.T) {
	store := testStore(t)
	svc := NewSyncService(zap.NewNop(), store, nil)
	ctx := context.Background()

	if err := svc.Enqueue(ctx, testRecord("P1", "T-100")); err != nil {
		t.Fatal(err)
	}

	synced, failed, err := svc.Drain(ctx)
	if err != nil || synced != 0 || failed != 0 {
		t.Errorf("drain without remote = (%d, %d, %v), want (0, 0, nil)", synced, failed, err)
	}

	pending, _ := svc.Pending(ctx)
	if len(pending) != 1 {
		t.Errorf("item lost without a remote store")
	}
}
