package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"railguard/models"
	"railguard/storage"
)

// SyncService drains the durable offline queue of first-sighting
// alerts into the remote store. Per-item failures leave the item
// pending for the next drain; records are only ever removed by a
// successful submit or an explicit user clear.
type SyncService struct {
	logger *zap.Logger
	store  *storage.Store
	remote RemoteAlertStore

	draining sync.Mutex
}

func NewSyncService(logger *zap.Logger, store *storage.Store, remote RemoteAlertStore) *SyncService {
	return &SyncService{logger: logger, store: store, remote: remote}
}

// Enqueue appends a record to the durable queue.
func (s *SyncService) Enqueue(ctx context.Context, record models.AlertRecord) error {
	return s.store.EnqueueSync(ctx, uuid.NewString(), record)
}

// Pending returns the queued items in FIFO order.
func (s *SyncService) Pending(ctx context.Context) ([]models.SyncItem, error) {
	return s.store.PendingSync(ctx)
}

// Kick starts an asynchronous drain attempt. A drain already in
// progress makes this a no-op.
func (s *SyncService) Kick() {
	go func() {
		if _, _, err := s.Drain(context.Background()); err != nil {
			s.logger.Debug("Opportunistic sync drain failed", zap.Error(err))
		}
	}()
}

// Drain submits queued items sequentially to the remote store and
// returns how many synced and how many remain pending. Overlapping
// drains are collapsed into one.
func (s *SyncService) Drain(ctx context.Context) (synced, failed int, err error) {
	if !s.draining.TryLock() {
		return 0, 0, nil
	}
	defer s.draining.Unlock()

	if s.remote == nil {
		return 0, 0, nil
	}

	items, err := s.store.PendingSync(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(items) == 0 {
		return 0, 0, nil
	}

	s.logger.Info("Draining sync queue", zap.Int("pending", len(items)))

	for _, item := range items {
		if ctx.Err() != nil {
			return synced, failed, ctx.Err()
		}

		if submitErr := s.remote.Submit(ctx, item.Record); submitErr != nil {
			failed++
			s.logger.Warn("Alert sync failed, keeping item pending",
				zap.String("item_id", item.ID),
				zap.String("pillar_id", item.Record.PillarID),
				zap.Int("attempts", item.Attempts+1),
				zap.Error(submitErr),
			)
			if err := s.store.BumpSyncAttempts(ctx, item.ID); err != nil {
				s.logger.Error("Failed to update sync attempts", zap.Error(err))
			}
			continue
		}

		if err := s.store.SetAlertSyncState(ctx, item.Record.Key(), models.SyncSynced); err != nil {
			s.logger.Warn("Failed to mark alert synced", zap.Error(err))
		}
		if err := s.store.DeleteSync(ctx, item.ID); err != nil {
			s.logger.Error("Failed to remove synced item", zap.Error(err))
			continue
		}
		synced++
	}

	s.logger.Info("Sync drain finished",
		zap.Int("synced", synced),
		zap.Int("still_pending", failed),
	)
	return synced, failed, nil
}
