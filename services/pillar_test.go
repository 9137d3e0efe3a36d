package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"railguard/config"
	"railguard/models"
)

func TestPillarServiceServesCacheWhenDeviceOffline(t *testing.T) {
	var online atomic.Bool
	online.Store(true)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !online.Load() {
			// Simulate the device AP going away.
			conn, _, _ := w.(http.Hijacker).Hijack()
			conn.Close()
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"pillars": []map[string]any{
				{"id": "P1", "name": "Pillar 1", "lat": 6.9271, "lon": 79.8612},
				{"id": "P2", "name": "Pillar 2", "lat": 6.9350, "lon": 79.8700},
			},
		})
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{DeviceAddr: server.URL, DeviceTimeout: time.Second}
	device := NewDeviceClient(cfg, zap.NewNop())
	store := testStore(t)
	svc := NewPillarService(zap.NewNop(), device, store)
	ctx := context.Background()

	pillars, err := svc.Fetch(ctx)
	if err != nil {
		t.Fatalf("online fetch: %v", err)
	}
	if len(pillars) != 2 {
		t.Fatalf("fetched %d pillars, want 2", len(pillars))
	}

	online.Store(false)

	cached, err := svc.Fetch(ctx)
	if err != nil {
		t.Fatalf("offline fetch: %v", err)
	}
	if len(cached) != 2 {
		t.Errorf("cache served %d pillars, want 2", len(cached))
	}

	pillar, err := svc.Pillar(ctx, "P2")
	if err != nil {
		t.Fatalf("offline pillar lookup: %v", err)
	}
	if pillar.Name != "Pillar 2" {
		t.Errorf("pillar name = %q, want Pillar 2", pillar.Name)
	}

	if _, err := svc.Pillar(ctx, "P9"); !errors.Is(err, models.ErrPillarNotFound) {
		t.Errorf("unknown pillar error = %v, want ErrPillarNotFound", err)
	}
}

func TestPillarServiceStoresDeviceAddr(t *testing.T) {
	cfg := &config.Config{DeviceAddr: "192.168.4.1", DeviceTimeout: time.Second}
	device := NewDeviceClient(cfg, zap.NewNop())
	store := testStore(t)
	svc := NewPillarService(zap.NewNop(), device, store)
	ctx := context.Background()

	if err := svc.SetDeviceAddr(ctx, "10.0.0.7"); err != nil {
		t.Fatalf("set addr: %v", err)
	}
	if svc.DeviceAddr() != "10.0.0.7" {
		t.Errorf("addr = %q, want 10.0.0.7", svc.DeviceAddr())
	}

	// A fresh service over the same store restores the address.
	device2 := NewDeviceClient(cfg, zap.NewNop())
	svc2 := NewPillarService(zap.NewNop(), device2, store)
	if err := svc2.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if svc2.DeviceAddr() != "10.0.0.7" {
		t.Errorf("restored addr = %q, want 10.0.0.7", svc2.DeviceAddr())
	}
}
