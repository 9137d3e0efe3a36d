package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"railguard/models"
	"railguard/storage"
)

const deviceAddrSetting = "device_addr"

// PillarService keeps an offline-first cache of the device's pillar
// list and owns the stored device address. The cache serves reads when
// the device is unreachable.
type PillarService struct {
	logger *zap.Logger
	device *DeviceClient
	store  *storage.Store
}

func NewPillarService(logger *zap.Logger, device *DeviceClient, store *storage.Store) *PillarService {
	return &PillarService{logger: logger, device: device, store: store}
}

// Init restores the stored device address, if any.
func (s *PillarService) Init(ctx context.Context) error {
	addr, err := s.store.Setting(ctx, deviceAddrSetting)
	if err != nil {
		return err
	}
	if addr != "" {
		s.device.SetAddr(addr)
	}
	return nil
}

// Fetch refreshes the pillar cache from the device. When the device is
// unreachable the existing cache is returned instead.
func (s *PillarService) Fetch(ctx context.Context) ([]models.Pillar, error) {
	pillars, err := s.device.Pillars(ctx)
	if err != nil {
		s.logger.Debug("Pillar fetch failed, serving cache", zap.Error(err))
		return s.store.Pillars(ctx)
	}

	if err := s.store.ReplacePillars(ctx, pillars); err != nil {
		s.logger.Warn("Failed to cache pillars", zap.Error(err))
	}
	return pillars, nil
}

// Pillars returns the cached pillar list, fetching from the device
// when the cache is empty.
func (s *PillarService) Pillars(ctx context.Context) ([]models.Pillar, error) {
	pillars, err := s.store.Pillars(ctx)
	if err != nil {
		return nil, err
	}
	if len(pillars) > 0 {
		return pillars, nil
	}
	return s.Fetch(ctx)
}

// Pillar resolves a pillar by id, refreshing the cache once on a miss.
func (s *PillarService) Pillar(ctx context.Context, id string) (models.Pillar, error) {
	pillar, err := s.store.Pillar(ctx, id)
	if err == nil {
		return pillar, nil
	}
	if !errors.Is(err, models.ErrPillarNotFound) {
		return models.Pillar{}, err
	}

	if _, err := s.Fetch(ctx); err != nil {
		return models.Pillar{}, models.ErrPillarNotFound
	}
	return s.store.Pillar(ctx, id)
}

// Add registers a pillar on the device and refreshes the cache.
func (s *PillarService) Add(ctx context.Context, name string, lat, lon float64) error {
	if err := s.device.AddPillar(ctx, name, lat, lon); err != nil {
		return fmt.Errorf("adding pillar: %w", err)
	}
	_, err := s.Fetch(ctx)
	return err
}

// Delete removes a pillar from the device and refreshes the cache.
func (s *PillarService) Delete(ctx context.Context, id string) error {
	if err := s.device.DeletePillar(ctx, id); err != nil {
		return fmt.Errorf("deleting pillar: %w", err)
	}
	_, err := s.Fetch(ctx)
	return err
}

// ClearAll wipes the device configuration and the local caches.
func (s *PillarService) ClearAll(ctx context.Context) error {
	if err := s.device.ClearAll(ctx); err != nil {
		return fmt.Errorf("clearing device: %w", err)
	}
	if err := s.store.ReplacePillars(ctx, nil); err != nil {
		return err
	}
	return s.store.ReplaceWaypoints(ctx, nil)
}

// CheckConnection probes the device status endpoint.
func (s *PillarService) CheckConnection(ctx context.Context) (models.DeviceStatus, error) {
	return s.device.Status(ctx)
}

// DeviceAddr returns the device address currently in use.
func (s *PillarService) DeviceAddr() string {
	return s.device.Addr()
}

// SetDeviceAddr stores a new device address and switches the client.
func (s *PillarService) SetDeviceAddr(ctx context.Context, addr string) error {
	if err := s.store.SetSetting(ctx, deviceAddrSetting, addr); err != nil {
		return err
	}
	s.device.SetAddr(addr)
	s.logger.Info("Device address updated", zap.String("addr", addr))
	return nil
}

var _ PillarResolver = (*PillarService)(nil)
