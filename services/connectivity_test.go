package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"railguard/config"
	"railguard/models"
)

// switchablePinger flips between unreachable and reachable under test
// control.
type switchablePinger struct {
	mu      sync.Mutex
	offline bool
}

func (p *switchablePinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offline {
		return errors.New("remote unreachable")
	}
	return nil
}

func (p *switchablePinger) setOffline(offline bool) {
	p.mu.Lock()
	p.offline = offline
	p.mu.Unlock()
}

func monitorTestConfig(t *testing.T) *config.Config {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.DeviceStatus{Status: "success", PillarCount: 1, WaypointCount: 3})
	}))
	t.Cleanup(server.Close)
	return &config.Config{
		DeviceAddr:    server.URL,
		DeviceTimeout: time.Second,
		ProbeInterval: time.Hour,
	}
}

func TestConnectivityRestoredDrainsSyncQueue(t *testing.T) {
	cfg := monitorTestConfig(t)
	store := testStore(t)
	remote := &flakyRemote{}
	syncSvc := NewSyncService(zap.NewNop(), store, remote)
	pinger := &switchablePinger{offline: true}
	monitor := NewConnectivityMonitor(cfg, zap.NewNop(), NewDeviceClient(cfg, zap.NewNop()), pinger, syncSvc)
	ctx := context.Background()

	if err := syncSvc.Enqueue(ctx, testRecord("P1", "T-100")); err != nil {
		t.Fatal(err)
	}

	monitor.probe(ctx)
	if !monitor.DeviceOnline() {
		t.Fatal("device reported offline against a live status endpoint")
	}
	if monitor.RemoteOnline() {
		t.Fatal("remote reported online while unreachable")
	}
	if monitor.LastProbe().IsZero() {
		t.Error("probe time not recorded")
	}
	if pending, _ := syncSvc.Pending(ctx); len(pending) != 1 {
		t.Fatalf("queue drained while offline, %d pending", len(pending))
	}

	// Remote comes back; the offline-to-online transition kicks an
	// asynchronous drain.
	pinger.setOffline(false)
	monitor.probe(ctx)
	if !monitor.RemoteOnline() {
		t.Fatal("remote still reported offline after recovery")
	}

	if !waitFor(t, 2*time.Second, func() bool {
		pending, _ := syncSvc.Pending(ctx)
		return len(pending) == 0
	}) {
		pending, _ := syncSvc.Pending(ctx)
		t.Errorf("queue still holds %d items after connectivity restored", len(pending))
	}
	if got := remote.submittedPillars(); len(got) != 1 || got[0] != "P1" {
		t.Errorf("remote received %v, want [P1]", got)
	}
}

func TestConnectivityStableOnlineDoesNotRedrain(t *testing.T) {
	cfg := monitorTestConfig(t)
	store := testStore(t)
	remote := &flakyRemote{}
	syncSvc := NewSyncService(zap.NewNop(), store, remote)
	pinger := &switchablePinger{}
	monitor := NewConnectivityMonitor(cfg, zap.NewNop(), NewDeviceClient(cfg, zap.NewNop()), pinger, syncSvc)
	ctx := context.Background()

	monitor.probe(ctx)
	if !monitor.RemoteOnline() {
		t.Fatal("remote reported offline")
	}

	// Enqueued after the transition: a steady online probe leaves the
	// drain to the periodic retry, not the monitor.
	if err := syncSvc.Enqueue(ctx, testRecord("P1", "T-100")); err != nil {
		t.Fatal(err)
	}
	monitor.probe(ctx)

	time.Sleep(100 * time.Millisecond)
	pending, err := syncSvc.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d items after steady online probes, want 1", len(pending))
	}
	if got := remote.submittedPillars(); len(got) != 0 {
		t.Errorf("remote received %v without a connectivity transition", got)
	}
}
