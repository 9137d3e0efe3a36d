package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"railguard/models"
	"railguard/storage"
)

// WaypointService mirrors the device's waypoint list into the local
// cache, and handles bulk import of surveyed track data.
type WaypointService struct {
	logger  *zap.Logger
	device  *DeviceClient
	store   *storage.Store
	pillars *PillarService
}

func NewWaypointService(logger *zap.Logger, device *DeviceClient, store *storage.Store, pillars *PillarService) *WaypointService {
	return &WaypointService{logger: logger, device: device, store: store, pillars: pillars}
}

// Fetch refreshes the waypoint cache from the device, serving the
// cache when the device is unreachable.
func (s *WaypointService) Fetch(ctx context.Context) ([]models.Waypoint, error) {
	waypoints, err := s.device.Waypoints(ctx)
	if err != nil {
		s.logger.Debug("Waypoint fetch failed, serving cache", zap.Error(err))
		return s.store.Waypoints(ctx)
	}

	if err := s.store.ReplaceWaypoints(ctx, waypoints); err != nil {
		s.logger.Warn("Failed to cache waypoints", zap.Error(err))
	}
	return waypoints, nil
}

// Waypoints returns the cached waypoint list, fetching when empty.
func (s *WaypointService) Waypoints(ctx context.Context) ([]models.Waypoint, error) {
	waypoints, err := s.store.Waypoints(ctx)
	if err != nil {
		return nil, err
	}
	if len(waypoints) > 0 {
		return waypoints, nil
	}
	return s.Fetch(ctx)
}

// ByPillar returns the cached waypoints recorded against one pillar.
func (s *WaypointService) ByPillar(ctx context.Context, pillarID string) ([]models.Waypoint, error) {
	waypoints, err := s.Waypoints(ctx)
	if err != nil {
		return nil, err
	}

	var filtered []models.Waypoint
	for _, w := range waypoints {
		if w.PillarID == pillarID {
			filtered = append(filtered, w)
		}
	}
	return filtered, nil
}

// Update modifies a stored waypoint on the device and refreshes the
// cache.
func (s *WaypointService) Update(ctx context.Context, id string, fields map[string]any) error {
	if err := s.device.UpdateWaypoint(ctx, id, fields); err != nil {
		return fmt.Errorf("updating waypoint: %w", err)
	}
	_, err := s.Fetch(ctx)
	return err
}

// Delete removes a waypoint from the device and refreshes the cache.
func (s *WaypointService) Delete(ctx context.Context, id string) error {
	if err := s.device.DeleteWaypoint(ctx, id); err != nil {
		return fmt.Errorf("deleting waypoint: %w", err)
	}
	_, err := s.Fetch(ctx)
	return err
}

// BulkImport loads surveyed rows onto the device and refreshes both
// caches.
func (s *WaypointService) BulkImport(ctx context.Context, rows any) error {
	if err := s.device.Import(ctx, rows); err != nil {
		return fmt.Errorf("importing track data: %w", err)
	}

	if _, err := s.pillars.Fetch(ctx); err != nil {
		s.logger.Warn("Pillar refresh after import failed", zap.Error(err))
	}
	if _, err := s.Fetch(ctx); err != nil {
		s.logger.Warn("Waypoint refresh after import failed", zap.Error(err))
	}
	return nil
}
