package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"railguard/config"
	"railguard/events"
	"railguard/models"
)

// DetectionPublisher republishes normalized hazard events to an
// external broker. Publishing is best effort.
type DetectionPublisher interface {
	PublishDetection(ctx context.Context, d models.Detection) error
	PublishCleared(ctx context.Context, c models.Cleared) error
}

// PositionPoller drives the main detection loop: every poll interval it
// reads the vehicle's GPS position, asks the device for a distance
// report, grades the risk, and records a first-sighting alert when a
// hazard is present. The poller suspends while a calibration session is
// running so the two never share the sensor pipeline.
type PositionPoller struct {
	cfg         *config.Config
	logger      *zap.Logger
	location    LocationProvider
	device      *DeviceClient
	calibration *CalibrationService
	alerts      *AlertService
	publisher   DetectionPublisher

	detections *events.Bus[models.Detection]
	cleared    *events.Bus[models.Cleared]

	mu         sync.Mutex
	risk       models.RiskLevel
	lastReport models.DistanceReport
}

func NewPositionPoller(
	cfg *config.Config,
	logger *zap.Logger,
	location LocationProvider,
	device *DeviceClient,
	calibration *CalibrationService,
	alerts *AlertService,
	publisher DetectionPublisher,
) *PositionPoller {
	return &PositionPoller{
		cfg:         cfg,
		logger:      logger,
		location:    location,
		device:      device,
		calibration: calibration,
		alerts:      alerts,
		publisher:   publisher,
		detections:  events.NewBus[models.Detection](),
		cleared:     events.NewBus[models.Cleared](),
		risk:        models.RiskNone,
	}
}

// Detections subscribes to hazard detection events.
func (p *PositionPoller) Detections() *events.Subscription[models.Detection] {
	return p.detections.Subscribe()
}

// Cleared subscribes to hazard-cleared events.
func (p *PositionPoller) Cleared() *events.Subscription[models.Cleared] {
	return p.cleared.Subscribe()
}

// Risk returns the risk level from the most recent poll.
func (p *PositionPoller) Risk() models.RiskLevel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.risk
}

// LastReport returns the most recent device distance report.
func (p *PositionPoller) LastReport() models.DistanceReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReport
}

// Run polls until ctx is cancelled.
func (p *PositionPoller) Run(ctx context.Context) error {
	p.logger.Info("Position poller started",
		zap.Duration("interval", p.cfg.PollInterval),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Position poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one detection cycle. Transient failures are logged and the
// cycle is skipped; the next tick retries.
func (p *PositionPoller) Poll(ctx context.Context) {
	if p.calibration != nil && p.calibration.Active() {
		return
	}

	fixCtx, cancel := context.WithTimeout(ctx, p.cfg.DeviceTimeout)
	position, err := p.location.Current(fixCtx)
	cancel()
	if err != nil {
		p.logger.Debug("Skipping poll, no GPS fix", zap.Error(err))
		return
	}

	report, err := p.device.CalculateDistances(ctx, position.Latitude, position.Longitude)
	if err != nil {
		if errors.Is(err, models.ErrNoPillars) {
			p.logger.Debug("Device has no pillars configured")
		} else {
			p.logger.Debug("Distance report failed", zap.Error(err))
		}
		return
	}

	p.mu.Lock()
	p.lastReport = report
	p.mu.Unlock()

	if !report.ElephantDetected {
		p.handleCleared(ctx, report)
		return
	}
	p.handleDetection(ctx, position, report)
}

func (p *PositionPoller) handleDetection(ctx context.Context, position models.Position, report models.DistanceReport) {
	risk := models.RiskCritical
	trackKm := 0.0
	if report.Distance != nil {
		trackKm = report.Distance.TrackKm
		risk = models.RiskFromTrackKm(trackKm)
	}

	p.mu.Lock()
	previous := p.risk
	p.risk = risk
	p.mu.Unlock()

	if previous != risk {
		p.logger.Info("Hazard risk level changed",
			zap.String("from", string(previous)),
			zap.String("to", string(risk)),
			zap.Float64("track_km", trackKm),
		)
	}

	detection := models.Detection{
		VehicleLocation: position,
		HazardLocation:  report.ElephantLocation,
		Distance:        report.Distance,
		RiskLevel:       risk,
		Status:          report.Status,
		Timestamp:       time.Now().UTC(),
	}
	p.detections.Publish(detection)

	if p.publisher != nil {
		if err := p.publisher.PublishDetection(ctx, detection); err != nil {
			p.logger.Warn("Failed to publish detection event", zap.Error(err))
		}
	}

	record := models.AlertRecord{
		PillarID:       p.pillarID(report),
		PillarName:     p.pillarName(report),
		VehicleID:      p.cfg.VehicleID,
		RiskLevel:      risk,
		Timestamp:      detection.Timestamp,
		HazardLocation: report.ElephantLocation,
		VehicleLat:     position.Latitude,
		VehicleLon:     position.Longitude,
		TrackKm:        trackKm,
		SyncState:      models.SyncPending,
	}
	if _, err := p.alerts.SaveFirstAlert(ctx, record); err != nil {
		p.logger.Error("Failed to record sighting alert", zap.Error(err))
	}
}

func (p *PositionPoller) handleCleared(ctx context.Context, report models.DistanceReport) {
	p.mu.Lock()
	previous := p.risk
	p.risk = models.RiskNone
	p.mu.Unlock()

	if previous != models.RiskNone {
		p.logger.Info("Hazard cleared", zap.String("previous_risk", string(previous)))
	}

	// The device repeats the all-clear on every poll; consumers clear
	// display state only, never the dedup store.
	cleared := models.Cleared{
		Message:   report.Message,
		Timestamp: time.Now().UTC(),
	}
	p.cleared.Publish(cleared)

	if p.publisher != nil {
		if err := p.publisher.PublishCleared(ctx, cleared); err != nil {
			p.logger.Warn("Failed to publish cleared event", zap.Error(err))
		}
	}
}

// pillarID picks the dedup pillar component: the sighting pillar's id,
// falling back to its name, then to the nearest pillar from the
// distance block.
func (p *PositionPoller) pillarID(report models.DistanceReport) string {
	if report.ElephantLocation != nil {
		if report.ElephantLocation.PillarID != "" {
			return report.ElephantLocation.PillarID
		}
		if report.ElephantLocation.PillarName != "" {
			return report.ElephantLocation.PillarName
		}
	}
	if report.Distance != nil && report.Distance.NearestPillarName != "" {
		return report.Distance.NearestPillarName
	}
	return "unknown"
}

func (p *PositionPoller) pillarName(report models.DistanceReport) string {
	if report.ElephantLocation != nil && report.ElephantLocation.PillarName != "" {
		return report.ElephantLocation.PillarName
	}
	if report.Distance != nil {
		return report.Distance.NearestPillarName
	}
	return ""
}
