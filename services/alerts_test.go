package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"railguard/models"
	"railguard/storage"
)

func testStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "railguard.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) NotifyFirstAlert(models.AlertRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

func (n *countingNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

func testRecord(pillarID, vehicleID string) models.AlertRecord {
	return models.AlertRecord{
		PillarID:   pillarID,
		PillarName: "Pillar " + pillarID,
		VehicleID:  vehicleID,
		RiskLevel:  models.RiskHigh,
		Timestamp:  time.Now().UTC(),
		TrackKm:    1.5,
	}
}

func TestAlertServiceFirstSaveOnly(t *testing.T) {
	store := testStore(t)
	notifier := &countingNotifier{}
	queue := NewSyncService(zap.NewNop(), store, nil)
	svc := NewAlertService(zap.NewNop(), store, queue, notifier)
	ctx := context.Background()

	first, err := svc.SaveFirstAlert(ctx, testRecord("P1", "T-100"))
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if !first {
		t.Fatal("first save reported as duplicate")
	}

	again, err := svc.SaveFirstAlert(ctx, testRecord("P1", "T-100"))
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if again {
		t.Fatal("duplicate save reported as first")
	}

	if notifier.calls() != 1 {
		t.Errorf("notifier called %d times, want 1", notifier.calls())
	}

	pending, err := queue.Pending(ctx)
	if err != nil {
		t.Fatalf("reading queue: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("queue holds %d items, want 1", len(pending))
	}

	history, err := svc.History(ctx, 10)
	if err != nil {
		t.Fatalf("reading history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history holds %d entries, want 1", len(history))
	}
}

func TestAlertServiceSeparateKeysAlertIndependently(t *testing.T) {
	store := testStore(t)
	queue := NewSyncService(zap.NewNop(), store, nil)
	svc := NewAlertService(zap.NewNop(), store, queue, nil)
	ctx := context.Background()

	keys := []struct{ pillar, vehicle string }{
		{"P1", "T-100"},
		{"P1", "T-200"},
		{"P2", "T-100"},
	}
	for _, k := range keys {
		first, err := svc.SaveFirstAlert(ctx, testRecord(k.pillar, k.vehicle))
		if err != nil {
			t.Fatalf("save %s/%s: %v", k.pillar, k.vehicle, err)
		}
		if !first {
			t.Errorf("key %s/%s wrongly deduplicated", k.pillar, k.vehicle)
		}
	}

	count, err := svc.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("alert count = %d, want 3", count)
	}
}

func TestAlertServiceClearReenablesAlerting(t *testing.T) {
	store := testStore(t)
	queue := NewSyncService(zap.NewNop(), store, nil)
	svc := NewAlertService(zap.NewNop(), store, queue, nil)
	ctx := context.Background()

	if _, err := svc.SaveFirstAlert(ctx, testRecord("P1", "T-100")); err != nil {
		t.Fatal(err)
	}
	if err := svc.ClearAlert(ctx, "P1", "T-100"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	first, err := svc.SaveFirstAlert(ctx, testRecord("P1", "T-100"))
	if err != nil {
		t.Fatal(err)
	}
	if !first {
		t.Error("save after clear treated as duplicate")
	}
}

func TestAlertServicePillarWideClear(t *testing.T) {
	store := testStore(t)
	queue := NewSyncService(zap.NewNop(), store, nil)
	svc := NewAlertService(zap.NewNop(), store, queue, nil)
	ctx := context.Background()

	svc.SaveFirstAlert(ctx, testRecord("P1", "T-100"))
	svc.SaveFirstAlert(ctx, testRecord("P1", "T-200"))
	svc.SaveFirstAlert(ctx, testRecord("P2", "T-100"))

	// Empty vehicle id clears the whole pillar.
	if err := svc.ClearAlert(ctx, "P1", ""); err != nil {
		t.Fatalf("pillar-wide clear: %v", err)
	}

	count, _ := svc.Count(ctx)
	if count != 1 {
		t.Errorf("alert count after pillar clear = %d, want 1", count)
	}

	has, _ := svc.HasAlert(ctx, "P2", "T-100")
	if !has {
		t.Error("unrelated pillar's alert was cleared")
	}
}

func TestAlertServiceNormalizesUnknownVehicle(t *testing.T) {
	store := testStore(t)
	queue := NewSyncService(zap.NewNop(), store, nil)
	svc := NewAlertService(zap.NewNop(), store, queue, nil)
	ctx := context.Background()

	if _, err := svc.SaveFirstAlert(ctx, testRecord("P1", "")); err != nil {
		t.Fatal(err)
	}

	has, err := svc.HasAlert(ctx, "P1", "")
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("empty vehicle id not normalized consistently")
	}

	alerts, _ := svc.Alerts(ctx)
	if len(alerts) != 1 || alerts[0].VehicleID != models.UnknownVehicle {
		t.Errorf("stored vehicle id = %q, want %q", alerts[0].VehicleID, models.UnknownVehicle)
	}
}
