package services

import (
	"context"

	"go.uber.org/zap"

	"railguard/models"
	"railguard/storage"
)

// FirstAlertNotifier pushes a first-sighting alert to an operations
// channel. Notification failures never block the alert pipeline.
type FirstAlertNotifier interface {
	NotifyFirstAlert(record models.AlertRecord) error
}

// AlertService enforces the at-most-once alert guarantee: each
// (pillar, vehicle) pair raises exactly one durable alert until the
// user clears it. First saves land in the bounded history log and the
// offline sync queue.
type AlertService struct {
	logger   *zap.Logger
	store    *storage.Store
	queue    *SyncService
	notifier FirstAlertNotifier
}

func NewAlertService(logger *zap.Logger, store *storage.Store, queue *SyncService, notifier FirstAlertNotifier) *AlertService {
	return &AlertService{logger: logger, store: store, queue: queue, notifier: notifier}
}

// SaveFirstAlert persists the record unless its key already alerted.
// Returns true only for the first save.
func (s *AlertService) SaveFirstAlert(ctx context.Context, record models.AlertRecord) (bool, error) {
	if record.VehicleID == "" {
		record.VehicleID = models.UnknownVehicle
	}
	if record.SyncState == "" {
		record.SyncState = models.SyncPending
	}

	first, err := s.store.SaveFirstAlert(ctx, record)
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
	}

	s.logger.Info("First sighting alert recorded",
		zap.String("pillar_id", record.PillarID),
		zap.String("vehicle_id", record.VehicleID),
		zap.String("risk_level", string(record.RiskLevel)),
		zap.Float64("track_km", record.TrackKm),
	)

	if err := s.store.AppendHistory(ctx, record); err != nil {
		s.logger.Warn("Failed to append alert history", zap.Error(err))
	}

	if err := s.queue.Enqueue(ctx, record); err != nil {
		s.logger.Error("Failed to enqueue alert for sync", zap.Error(err))
	} else {
		s.queue.Kick()
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyFirstAlert(record); err != nil {
			s.logger.Warn("Failed to notify operations channel", zap.Error(err))
		}
	}

	return true, nil
}

// HasAlert reports whether the (pillar, vehicle) pair already alerted.
func (s *AlertService) HasAlert(ctx context.Context, pillarID, vehicleID string) (bool, error) {
	return s.store.HasAlert(ctx, models.NewAlertKey(pillarID, vehicleID))
}

// ClearAlert removes the alert for one (pillar, vehicle) pair, or for
// every vehicle at the pillar when vehicleID is empty. Only explicit
// clears remove unsynced data.
func (s *AlertService) ClearAlert(ctx context.Context, pillarID, vehicleID string) error {
	if vehicleID == "" {
		s.logger.Info("Clearing all alerts for pillar", zap.String("pillar_id", pillarID))
		return s.store.ClearPillarAlerts(ctx, pillarID)
	}
	return s.store.ClearAlert(ctx, models.NewAlertKey(pillarID, vehicleID))
}

// ClearAll removes every dedup entry.
func (s *AlertService) ClearAll(ctx context.Context) error {
	return s.store.ClearAllAlerts(ctx)
}

// Alerts returns every stored first-sighting alert, newest first.
func (s *AlertService) Alerts(ctx context.Context) ([]models.AlertRecord, error) {
	return s.store.Alerts(ctx)
}

// History returns up to limit alert history entries, newest first.
func (s *AlertService) History(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	return s.store.History(ctx, limit)
}

// Count returns the number of active dedup entries.
func (s *AlertService) Count(ctx context.Context) (int, error) {
	return s.store.AlertCount(ctx)
}
