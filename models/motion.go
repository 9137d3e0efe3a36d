package models

import (
	"math"
	"time"
)

// MotionSample is a single raw 3-axis accelerometer reading from the
// onboard sensor unit. Values are in g, as reported by the hardware.
type MotionSample struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Timestamp time.Time `json:"timestamp"`
}

// Vec3 is a per-axis scalar triple used for the gravity baseline and
// the smoothed velocity estimate.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude returns the Euclidean norm across the three axes.
func (v Vec3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Position is a single GPS fix.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}
