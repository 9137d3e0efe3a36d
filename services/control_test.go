package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"railguard/config"
)

func newTestControl(t *testing.T) (*ControlService, *AlertService, *SyncService, *flakyRemote) {
	t.Helper()
	store := testStore(t)
	remote := &flakyRemote{}
	syncSvc := NewSyncService(zap.NewNop(), store, remote)
	alerts := NewAlertService(zap.NewNop(), store, syncSvc, nil)
	cfg := &config.Config{MQTTCommandTopic: "railguard/commands"}
	svc := NewControlService(cfg, zap.NewNop(), nil, alerts, syncSvc, nil, nil)
	return svc, alerts, syncSvc, remote
}

func controlPayload(t *testing.T, payload string) controlCommand {
	t.Helper()
	var cmd controlCommand
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		t.Fatalf("decoding command payload: %v", err)
	}
	return cmd
}

func TestControlClearAlertCommand(t *testing.T) {
	svc, alerts, _, _ := newTestControl(t)
	ctx := context.Background()

	if _, err := alerts.SaveFirstAlert(ctx, testRecord("P1", "T-100")); err != nil {
		t.Fatal(err)
	}

	svc.execute(ctx, controlPayload(t, `{"action":"clear_alert","pillarId":"P1","vehicleId":"T-100"}`))

	has, err := alerts.HasAlert(ctx, "P1", "T-100")
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("alert still present after clear_alert command")
	}
}

func TestControlClearAllAlertsCommand(t *testing.T) {
	svc, alerts, _, _ := newTestControl(t)
	ctx := context.Background()

	for _, pillar := range []string{"P1", "P2"} {
		if _, err := alerts.SaveFirstAlert(ctx, testRecord(pillar, "T-100")); err != nil {
			t.Fatal(err)
		}
	}

	svc.execute(ctx, controlPayload(t, `{"action":"clear_all_alerts"}`))

	count, err := alerts.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("alert count after clear_all_alerts = %d, want 0", count)
	}
}

func TestControlSyncNowCommand(t *testing.T) {
	svc, _, syncSvc, remote := newTestControl(t)
	ctx := context.Background()

	if err := syncSvc.Enqueue(ctx, testRecord("P1", "T-100")); err != nil {
		t.Fatal(err)
	}

	svc.execute(ctx, controlPayload(t, `{"action":"sync_now"}`))

	if !waitFor(t, 2*time.Second, func() bool {
		pending, _ := syncSvc.Pending(ctx)
		return len(pending) == 0
	}) {
		t.Fatal("queue not drained by sync_now command")
	}
	if got := remote.submittedPillars(); len(got) != 1 || got[0] != "P1" {
		t.Errorf("remote received %v, want [P1]", got)
	}
}

func TestControlUnknownCommandIsIgnored(t *testing.T) {
	svc, alerts, _, _ := newTestControl(t)
	ctx := context.Background()

	if _, err := alerts.SaveFirstAlert(ctx, testRecord("P1", "T-100")); err != nil {
		t.Fatal(err)
	}

	svc.execute(ctx, controlPayload(t, `{"action":"reboot_universe","pillarId":"P1"}`))

	has, err := alerts.HasAlert(ctx, "P1", "T-100")
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("unknown command mutated alert state")
	}
}
