package services

import (
	"context"
	"time"

	"railguard/models"
)

// SensorProvider supplies the continuous accelerometer stream from the
// onboard sensor unit. Subscriptions cancel independently; the returned
// stop function must prevent further callbacks before it returns.
type SensorProvider interface {
	Available() bool
	Subscribe(interval time.Duration, fn func(models.MotionSample)) (stop func(), err error)
}

// LocationProvider supplies GPS fixes, both one-shot and continuous.
// Implementations return models.ErrPermissionDenied when location
// access is refused.
type LocationProvider interface {
	Current(ctx context.Context) (models.Position, error)
	Watch(interval time.Duration, fn func(models.Position)) (stop func(), err error)
}

// RemoteAlertStore accepts synced alert records, one logical write per
// record.
type RemoteAlertStore interface {
	Submit(ctx context.Context, record models.AlertRecord) error
}
