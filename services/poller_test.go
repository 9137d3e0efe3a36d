package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"railguard/config"
	"railguard/models"
)

func pollerTestConfig(deviceAddr string) *config.Config {
	cfg := calibrationTestConfig()
	cfg.DeviceAddr = deviceAddr
	cfg.PollInterval = 5 * time.Second
	cfg.VehicleID = "T-100"
	return cfg
}

func detectionHandler(trackKm float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":           "success",
			"elephantDetected": true,
			"elephantLocation": map[string]any{
				"latitude":   6.93,
				"longitude":  79.87,
				"pillarId":   "P7",
				"pillarName": "Pillar 7",
			},
			"distance": map[string]any{
				"track_km":          trackKm,
				"straight_km":       trackKm * 0.8,
				"nearestPillar_km":  0.3,
				"nearestPillarName": "Pillar 7",
			},
		})
	}
}

func clearedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":           "success",
			"elephantDetected": false,
			"message":          "no elephants detected",
		})
	}
}

func newTestPoller(t *testing.T, handler http.Handler) (*PositionPoller, *AlertService) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := pollerTestConfig(server.URL)
	logger := zap.NewNop()
	device := NewDeviceClient(cfg, logger)
	store := testStore(t)
	queue := NewSyncService(logger, store, nil)
	alerts := NewAlertService(logger, store, queue, nil)
	location := &fakeLocation{fix: models.Position{Latitude: 6.9271, Longitude: 79.8612}}

	return NewPositionPoller(cfg, logger, location, device, nil, alerts, nil), alerts
}

func TestPollerRecordsAlertOnDetection(t *testing.T) {
	poller, alerts := newTestPoller(t, detectionHandler(1.42))
	ctx := context.Background()

	sub := poller.Detections()
	defer sub.Unsubscribe()

	poller.Poll(ctx)

	if risk := poller.Risk(); risk != models.RiskHigh {
		t.Errorf("risk = %q, want high for 1.42 km", risk)
	}

	select {
	case detection := <-sub.C:
		if detection.RiskLevel != models.RiskHigh {
			t.Errorf("event risk = %q, want high", detection.RiskLevel)
		}
		if detection.HazardLocation == nil || detection.HazardLocation.PillarID != "P7" {
			t.Errorf("event hazard location = %+v", detection.HazardLocation)
		}
	default:
		t.Fatal("no detection event published")
	}

	has, err := alerts.HasAlert(ctx, "P7", "T-100")
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("detection did not record a first-sighting alert")
	}
}

func TestPollerDeduplicatesRepeatedDetections(t *testing.T) {
	poller, alerts := newTestPoller(t, detectionHandler(0.8))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		poller.Poll(ctx)
	}

	count, err := alerts.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("alert count after 5 polls = %d, want 1", count)
	}
}

func TestPollerClearedResetsRiskWithoutTouchingAlerts(t *testing.T) {
	// Detect first, then swap the device to the all-clear response.
	var cleared atomic.Bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cleared.Load() {
			clearedHandler()(w, r)
			return
		}
		detectionHandler(0.5)(w, r)
	})

	poller, alerts := newTestPoller(t, handler)
	ctx := context.Background()

	poller.Poll(ctx)
	if poller.Risk() != models.RiskCritical {
		t.Fatalf("risk = %q, want critical for 0.5 km", poller.Risk())
	}

	sub := poller.Cleared()
	defer sub.Unsubscribe()

	cleared.Store(true)
	poller.Poll(ctx)

	if poller.Risk() != models.RiskNone {
		t.Errorf("risk after clear = %q, want none", poller.Risk())
	}

	select {
	case <-sub.C:
	default:
		t.Error("no cleared event published")
	}

	// The dedup entry survives the all-clear.
	has, _ := alerts.HasAlert(ctx, "P7", "T-100")
	if !has {
		t.Error("all-clear removed the dedup entry")
	}
}

func TestPollerSuspendsDuringCalibration(t *testing.T) {
	var requests atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		detectionHandler(1.0)(w, r)
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := pollerTestConfig(server.URL)
	logger := zap.NewNop()
	device := NewDeviceClient(cfg, logger)
	store := testStore(t)
	queue := NewSyncService(logger, store, nil)
	alerts := NewAlertService(logger, store, queue, nil)

	sensor := &fakeSensor{}
	location := &fakeLocation{fix: models.Position{Latitude: 6.9271, Longitude: 79.8612}}
	pillars := &fakePillars{pillar: models.Pillar{ID: "P1", Name: "Pillar 1"}}
	calibration := NewCalibrationService(cfg, logger, sensor, location, pillars, &fakeRecorder{}, nil)

	poller := NewPositionPoller(cfg, logger, location, device, calibration, alerts, nil)

	if err := calibration.Start(context.Background(), "P1", 1000); err != nil {
		t.Fatalf("calibration start: %v", err)
	}

	poller.Poll(context.Background())
	if n := requests.Load(); n != 0 {
		t.Errorf("device polled %d times during calibration, want 0", n)
	}

	calibration.Stop()
	poller.Poll(context.Background())
	if n := requests.Load(); n != 1 {
		t.Errorf("device polled %d times after calibration, want 1", n)
	}
}

func TestPollerSkipsTickWithoutGPSFix(t *testing.T) {
	var requests atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		detectionHandler(1.0)(w, r)
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := pollerTestConfig(server.URL)
	logger := zap.NewNop()
	device := NewDeviceClient(cfg, logger)
	store := testStore(t)
	queue := NewSyncService(logger, store, nil)
	alerts := NewAlertService(logger, store, queue, nil)
	location := &fakeLocation{err: models.ErrPermissionDenied}

	poller := NewPositionPoller(cfg, logger, location, device, nil, alerts, nil)
	poller.Poll(context.Background())

	if n := requests.Load(); n != 0 {
		t.Errorf("device polled %d times without a GPS fix, want 0", n)
	}
	if poller.Risk() != models.RiskNone {
		t.Errorf("risk = %q, want none before any report", poller.Risk())
	}
}
