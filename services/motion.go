package services

import (
	"math"
	"sync"
	"time"

	"railguard/config"
	"railguard/models"
)

// Speed buckets for the combined per-axis signal, in m/s. Chosen to
// approximate walking cadence without full step detection; the
// boundaries are tuned, not derived.
const (
	speedSlow   = 0.25
	speedNormal = 0.4
	speedFast   = 0.55
	speedRun    = 0.7
)

// MotionProcessor turns raw accelerometer samples into per-tick walked
// distance increments via per-axis velocity estimation with
// zero-velocity updates during stillness. All state is private to the
// processor; callers feed samples from a single stream.
type MotionProcessor struct {
	mu sync.Mutex

	cfg *config.Config

	baseline      models.Vec3
	last          models.Vec3
	lastTimestamp time.Time
	haveLast      bool

	velocity models.Vec3
	history  [3][]float64

	stationaryCount int
}

func NewMotionProcessor(cfg *config.Config) *MotionProcessor {
	return &MotionProcessor{cfg: cfg}
}

// Calibrate installs the gravity baseline and seeds the tick clock.
// Must be called before Process; the first sample after calibration
// contributes no distance.
func (m *MotionProcessor) Calibrate(baseline models.Vec3, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.baseline = baseline
	m.lastTimestamp = now
	m.haveLast = false
	m.last = models.Vec3{}
	m.velocity = models.Vec3{}
	m.history = [3][]float64{}
	m.stationaryCount = 0
}

// Reset clears all processor state.
func (m *MotionProcessor) Reset() {
	m.Calibrate(models.Vec3{}, time.Time{})
}

// Velocity returns the magnitude of the current per-axis velocity
// estimate in m/s.
func (m *MotionProcessor) Velocity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.velocity.Magnitude()
}

// Process consumes one sample and returns whether movement was
// detected and the accepted distance increment in meters for this
// tick (zero when stationary or when the increment is implausible).
func (m *MotionProcessor) Process(sample models.MotionSample) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.haveLast {
		m.lastTimestamp = sample.Timestamp
		m.last = models.Vec3{X: sample.X, Y: sample.Y, Z: sample.Z}
		m.haveLast = true
		return false, 0
	}

	dt := sample.Timestamp.Sub(m.lastTimestamp).Seconds()

	// Reject time jumps from suspension or stalled sensors.
	if dt > 0.5 || dt < 0.01 {
		m.lastTimestamp = sample.Timestamp
		return false, 0
	}

	// Delta from the previous reading catches periodic stepping;
	// deviation from the gravity baseline catches sustained motion.
	delta := models.Vec3{
		X: math.Abs(sample.X - m.last.X),
		Y: math.Abs(sample.Y - m.last.Y),
		Z: math.Abs(sample.Z - m.last.Z),
	}
	deviation := models.Vec3{
		X: math.Abs(sample.X - m.baseline.X),
		Y: math.Abs(sample.Y - m.baseline.Y),
		Z: math.Abs(sample.Z - m.baseline.Z),
	}

	moving := m.axisMoving(delta.X, deviation.X) ||
		m.axisMoving(delta.Y, deviation.Y) ||
		m.axisMoving(delta.Z, deviation.Z)

	m.last = models.Vec3{X: sample.X, Y: sample.Y, Z: sample.Z}
	m.lastTimestamp = sample.Timestamp

	if !moving {
		m.stationaryCount++

		// Zero-velocity update: decay toward zero during sustained
		// stillness so drift cannot accumulate through pauses.
		if m.stationaryCount >= m.cfg.StationaryFrames {
			m.velocity.X *= 0.3
			m.velocity.Y *= 0.3
			m.velocity.Z *= 0.3

			if m.velocity.Magnitude() < 0.1 {
				m.velocity = models.Vec3{}
				m.history = [3][]float64{}
			}
		}
		return false, 0
	}

	m.stationaryCount = 0

	deltas := [3]float64{delta.X, delta.Y, delta.Z}
	deviations := [3]float64{deviation.X, deviation.Y, deviation.Z}
	velocities := [3]*float64{&m.velocity.X, &m.velocity.Y, &m.velocity.Z}

	alpha := m.cfg.SmoothingAlpha
	var smoothed [3]float64
	for axis := 0; axis < 3; axis++ {
		combined := math.Max(deltas[axis]*1.2, deviations[axis])
		estimated := m.estimateSpeed(combined)

		*velocities[axis] = alpha*estimated + (1-alpha)*(*velocities[axis])

		m.history[axis] = append(m.history[axis], *velocities[axis])
		if len(m.history[axis]) > m.cfg.VelocityHistorySize {
			m.history[axis] = m.history[axis][1:]
		}

		smoothed[axis] = mean(m.history[axis])
	}

	total := math.Sqrt(smoothed[0]*smoothed[0] + smoothed[1]*smoothed[1] + smoothed[2]*smoothed[2])
	clamped := math.Min(total, m.cfg.MaxWalkingSpeed)

	increment := clamped * dt
	if increment <= 0 || increment >= 0.5 {
		return true, 0
	}
	return true, increment
}

func (m *MotionProcessor) axisMoving(delta, deviation float64) bool {
	return delta > m.cfg.DeltaThreshold || deviation > m.cfg.AbsThreshold
}

// estimateSpeed maps the combined signal to a discrete walking speed.
func (m *MotionProcessor) estimateSpeed(combined float64) float64 {
	if combined <= m.cfg.AxisThreshold {
		return 0
	}
	switch {
	case combined < 0.08:
		return speedSlow
	case combined < 0.15:
		return speedNormal
	case combined < 0.3:
		return speedFast
	default:
		return speedRun
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
