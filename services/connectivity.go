package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"railguard/config"
)

// Pinger checks reachability of the remote alert store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectivityMonitor probes the detection device and the remote alert
// store on a fixed interval. A remote offline-to-online transition
// kicks the sync queue so stranded alerts drain as soon as the network
// returns.
type ConnectivityMonitor struct {
	cfg    *config.Config
	logger *zap.Logger
	device *DeviceClient
	remote Pinger
	sync   *SyncService

	mu           sync.RWMutex
	deviceOnline bool
	remoteOnline bool
	lastProbe    time.Time
}

func NewConnectivityMonitor(
	cfg *config.Config,
	logger *zap.Logger,
	device *DeviceClient,
	remote Pinger,
	syncService *SyncService,
) *ConnectivityMonitor {
	return &ConnectivityMonitor{
		cfg:    cfg,
		logger: logger,
		device: device,
		remote: remote,
		sync:   syncService,
	}
}

// DeviceOnline reports whether the last probe reached the device.
func (m *ConnectivityMonitor) DeviceOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deviceOnline
}

// RemoteOnline reports whether the last probe reached the remote store.
func (m *ConnectivityMonitor) RemoteOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remoteOnline
}

// LastProbe returns when the most recent probe ran.
func (m *ConnectivityMonitor) LastProbe() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastProbe
}

// Run probes until ctx is cancelled.
func (m *ConnectivityMonitor) Run(ctx context.Context) error {
	m.logger.Info("Connectivity monitor started",
		zap.Duration("interval", m.cfg.ProbeInterval),
	)

	// Probe once up front so status is populated before the first tick.
	m.probe(ctx)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Connectivity monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *ConnectivityMonitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.DeviceTimeout)
	defer cancel()

	deviceOnline := false
	if _, err := m.device.Status(probeCtx); err == nil {
		deviceOnline = true
	} else {
		m.logger.Debug("Device probe failed", zap.Error(err))
	}

	remoteOnline := false
	if m.remote != nil {
		if err := m.remote.Ping(probeCtx); err == nil {
			remoteOnline = true
		} else {
			m.logger.Debug("Remote store probe failed", zap.Error(err))
		}
	}

	m.mu.Lock()
	wasDeviceOnline := m.deviceOnline
	wasRemoteOnline := m.remoteOnline
	m.deviceOnline = deviceOnline
	m.remoteOnline = remoteOnline
	m.lastProbe = time.Now()
	m.mu.Unlock()

	if deviceOnline != wasDeviceOnline {
		m.logger.Info("Device connectivity changed", zap.Bool("online", deviceOnline))
	}
	if remoteOnline != wasRemoteOnline {
		m.logger.Info("Remote store connectivity changed", zap.Bool("online", remoteOnline))
	}

	// Network restored: drain whatever queued while offline.
	if remoteOnline && !wasRemoteOnline && m.sync != nil {
		m.sync.Kick()
	}
}
