package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"railguard/config"
	"railguard/events"
	"railguard/geo"
	"railguard/models"
)

// Baseline capture samples faster than tracking so the 50-sample
// average settles quickly.
const baselineSampleInterval = 20 * time.Millisecond

// PillarResolver looks up a pillar by id from the local cache.
type PillarResolver interface {
	Pillar(ctx context.Context, id string) (models.Pillar, error)
}

// WaypointRecorder persists an emitted waypoint on the detection device.
type WaypointRecorder interface {
	AddWaypoint(ctx context.Context, pillarID string, lat, lon, distanceFromPillar float64, label string) error
}

// WaypointCache stores emitted waypoints locally.
type WaypointCache interface {
	AppendWaypoint(ctx context.Context, w models.Waypoint) error
}

// CalibrationService walks the dead-reckoning calibration session:
// baseline capture, distance accumulation from the motion processor,
// and waypoint emission every target-distance meters along the track.
// At most one session runs at a time; the position poller suspends
// while a session is active.
type CalibrationService struct {
	cfg      *config.Config
	logger   *zap.Logger
	sensor   SensorProvider
	location LocationProvider
	pillars  PillarResolver
	device   WaypointRecorder
	cache    WaypointCache
	motion   *MotionProcessor
	bus      *events.Bus[models.CalibrationSnapshot]

	mu            sync.Mutex
	active        bool
	isCalibrated  bool
	pillar        models.Pillar
	target        float64
	realDistance  float64
	straightDist  float64
	emitting      bool
	session       uint64
	waypoints     []models.Waypoint
	startLocation models.Position
	lastLocation  models.Position
	stopSensor    func()
	stopGPS       func()
}

func NewCalibrationService(
	cfg *config.Config,
	logger *zap.Logger,
	sensor SensorProvider,
	location LocationProvider,
	pillars PillarResolver,
	device WaypointRecorder,
	cache WaypointCache,
) *CalibrationService {
	return &CalibrationService{
		cfg:      cfg,
		logger:   logger,
		sensor:   sensor,
		location: location,
		pillars:  pillars,
		device:   device,
		cache:    cache,
		motion:   NewMotionProcessor(cfg),
		bus:      events.NewBus[models.CalibrationSnapshot](),
	}
}

// Updates subscribes to calibration snapshots. Every state change is
// broadcast; callers must Unsubscribe when done.
func (s *CalibrationService) Updates() *events.Subscription[models.CalibrationSnapshot] {
	return s.bus.Subscribe()
}

// Active reports whether a session (baseline capture included) is
// running.
func (s *CalibrationService) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start begins a calibration session against the given pillar,
// emitting a waypoint every targetMeters of real walked distance.
// Blocks through baseline capture (up to the configured timeout).
func (s *CalibrationService) Start(ctx context.Context, pillarID string, targetMeters float64) error {
	if targetMeters <= 0 {
		targetMeters = 1000
	}

	if !s.sensor.Available() {
		return models.ErrSensorUnavailable
	}

	pillar, err := s.pillars.Pillar(ctx, pillarID)
	if err != nil {
		return err
	}

	start, err := s.location.Current(ctx)
	if err != nil {
		if errors.Is(err, models.ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("getting start location: %w", err)
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return models.ErrCalibrationActive
	}
	s.active = true
	s.isCalibrated = false
	s.pillar = pillar
	s.target = targetMeters
	s.realDistance = 0
	s.straightDist = 0
	s.emitting = false
	s.session++
	s.waypoints = nil
	s.startLocation = start
	s.lastLocation = start
	s.mu.Unlock()

	s.publishSnapshot()

	baseline, err := s.captureBaseline(ctx)
	if err != nil {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		s.publishSnapshot()
		return err
	}

	s.motion.Calibrate(baseline, time.Now())

	stopSensor, err := s.sensor.Subscribe(s.cfg.SensorInterval, s.handleSample)
	if err != nil {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		return fmt.Errorf("subscribing to motion sensor: %w", err)
	}

	stopGPS, err := s.location.Watch(s.cfg.CalibrationGPSEvery, s.handleFix)
	if err != nil {
		stopSensor()
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		return fmt.Errorf("watching location: %w", err)
	}

	s.mu.Lock()
	s.isCalibrated = true
	s.stopSensor = stopSensor
	s.stopGPS = stopGPS
	s.mu.Unlock()

	s.logger.Info("Calibration started",
		zap.String("pillar_id", pillar.ID),
		zap.String("pillar_name", pillar.Name),
		zap.Float64("target_meters", targetMeters),
	)

	s.publishSnapshot()
	return nil
}

// Stop ends the session and returns the waypoints recorded, in order.
// Idempotent: stopping an inactive service returns zero waypoints. No
// sensor or GPS callback mutates state after Stop returns.
func (s *CalibrationService) Stop() []models.Waypoint {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	stopSensor, stopGPS := s.stopSensor, s.stopGPS
	s.stopSensor, s.stopGPS = nil, nil
	recorded := make([]models.Waypoint, len(s.waypoints))
	copy(recorded, s.waypoints)
	s.mu.Unlock()

	if stopSensor != nil {
		stopSensor()
	}
	if stopGPS != nil {
		stopGPS()
	}
	s.motion.Reset()

	s.logger.Info("Calibration stopped", zap.Int("waypoints_recorded", len(recorded)))
	s.publishSnapshot()
	return recorded
}

// Status returns the current session snapshot.
func (s *CalibrationService) Status() models.CalibrationSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Waypoints returns a copy of the waypoints recorded this session.
func (s *CalibrationService) Waypoints() []models.Waypoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Waypoint, len(s.waypoints))
	copy(out, s.waypoints)
	return out
}

// captureBaseline averages the configured number of consecutive
// samples into the gravity baseline.
func (s *CalibrationService) captureBaseline(ctx context.Context) (models.Vec3, error) {
	want := s.cfg.BaselineSamples
	samples := make(chan models.MotionSample, want)

	stop, err := s.sensor.Subscribe(baselineSampleInterval, func(sample models.MotionSample) {
		select {
		case samples <- sample:
		default:
		}
	})
	if err != nil {
		return models.Vec3{}, fmt.Errorf("subscribing for baseline capture: %w", err)
	}
	defer stop()

	timeout := time.NewTimer(s.cfg.BaselineTimeout)
	defer timeout.Stop()

	var sum models.Vec3
	count := 0
	for count < want {
		select {
		case sample := <-samples:
			sum.X += sample.X
			sum.Y += sample.Y
			sum.Z += sample.Z
			count++
		case <-timeout.C:
			return models.Vec3{}, models.ErrCalibrationTimeout
		case <-ctx.Done():
			return models.Vec3{}, ctx.Err()
		}
	}

	baseline := models.Vec3{
		X: sum.X / float64(want),
		Y: sum.Y / float64(want),
		Z: sum.Z / float64(want),
	}

	s.logger.Info("Gravity baseline captured",
		zap.Int("samples", want),
		zap.Float64("magnitude", baseline.Magnitude()),
	)
	return baseline, nil
}

// handleSample consumes one accelerometer tick while the session is
// active.
func (s *CalibrationService) handleSample(sample models.MotionSample) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}

	_, increment := s.motion.Process(sample)
	if increment <= 0 {
		s.mu.Unlock()
		return
	}

	s.realDistance += increment
	emit := s.realDistance >= s.target && !s.emitting
	var session uint64
	if emit {
		s.emitting = true
		session = s.session
	}
	s.mu.Unlock()

	if emit {
		go s.emitWaypoint(session)
	}
	s.publishSnapshot()
}

// handleFix updates the GPS straight-line distance, kept for operator
// comparison only.
func (s *CalibrationService) handleFix(fix models.Position) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.straightDist = geo.DistanceMeters(
		s.startLocation.Latitude, s.startLocation.Longitude,
		fix.Latitude, fix.Longitude,
	)
	s.lastLocation = fix
	s.mu.Unlock()

	s.publishSnapshot()
}

// emitWaypoint records a waypoint at the current GPS fix and resets
// the per-interval distance. Runs off the sample callback without the
// service lock, so a slow fix or device write never stalls the sensor
// and GPS handlers. Without a fix the interval distance is kept and
// emission retries on the next accepted tick. The session stamp drops
// an emission that outlives its session.
func (s *CalibrationService) emitWaypoint(session uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeviceTimeout)
	defer cancel()

	fix, err := s.location.Current(ctx)

	s.mu.Lock()
	if s.session != session {
		s.mu.Unlock()
		return
	}
	s.emitting = false
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("No GPS fix for waypoint, retrying next tick", zap.Error(err))
		return
	}
	if !s.active {
		s.mu.Unlock()
		return
	}

	seq := len(s.waypoints) + 1
	distanceFromPillar := geo.DistanceMeters(
		s.pillar.Latitude, s.pillar.Longitude,
		fix.Latitude, fix.Longitude,
	)

	waypoint := models.Waypoint{
		SequenceNumber:     seq,
		RealDistance:       s.realDistance,
		StraightDistance:   s.straightDist,
		Latitude:           fix.Latitude,
		Longitude:          fix.Longitude,
		DistanceFromPillar: distanceFromPillar,
		PillarID:           s.pillar.ID,
		Timestamp:          time.Now().UTC(),
		Label:              fmt.Sprintf("Waypoint %d (%c)", seq, rune('A'+seq-1)),
	}
	s.waypoints = append(s.waypoints, waypoint)
	s.realDistance = 0
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.AppendWaypoint(ctx, waypoint); err != nil {
			s.logger.Warn("Failed to cache waypoint locally", zap.Error(err))
		}
	}

	// Device persistence failure keeps the waypoint locally; the cache
	// can be re-imported later.
	if err := s.device.AddWaypoint(ctx, waypoint.PillarID, waypoint.Latitude, waypoint.Longitude,
		waypoint.DistanceFromPillar, waypoint.Label); err != nil {
		s.logger.Warn("Failed to persist waypoint on device",
			zap.Int("sequence", seq),
			zap.Error(err),
		)
	}

	s.logger.Info("Waypoint recorded",
		zap.Int("sequence", seq),
		zap.String("label", waypoint.Label),
		zap.Float64("real_distance_m", waypoint.RealDistance),
		zap.Float64("straight_distance_m", waypoint.StraightDistance),
		zap.Float64("distance_from_pillar_m", distanceFromPillar),
	)
	s.publishSnapshot()
}

func (s *CalibrationService) snapshotLocked() models.CalibrationSnapshot {
	return models.CalibrationSnapshot{
		IsCalibrating:     s.active,
		IsCalibrated:      s.isCalibrated,
		RealDistance:      s.realDistance,
		StraightDistance:  s.straightDist,
		TargetDistance:    s.target,
		WaypointsRecorded: len(s.waypoints),
		Velocity:          s.motion.Velocity(),
		PillarID:          s.pillar.ID,
	}
}

func (s *CalibrationService) publishSnapshot() {
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.bus.Publish(snapshot)
}
