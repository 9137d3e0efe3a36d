package models

import "time"

// Pillar is a fixed reference point along the monitored corridor.
// Pillars are owned by the detection device and cached locally read-only.
type Pillar struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Waypoint is a recorded point along a walked calibration path.
// Immutable once created; sequence numbers start at 1 within a session.
type Waypoint struct {
	SequenceNumber     int       `json:"number"`
	RealDistance       float64   `json:"realDistance"`
	StraightDistance   float64   `json:"straightDistance"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	DistanceFromPillar float64   `json:"distanceFromPillar"`
	PillarID           string    `json:"pillarId"`
	Timestamp          time.Time `json:"timestamp"`
	Label              string    `json:"description"`
}

// CalibrationSnapshot is broadcast to observers on every calibration
// state change.
type CalibrationSnapshot struct {
	IsCalibrating     bool    `json:"isCalibrating"`
	IsCalibrated      bool    `json:"isCalibrated"`
	RealDistance      float64 `json:"realDistance"`
	StraightDistance  float64 `json:"straightDistance"`
	TargetDistance    float64 `json:"targetDistance"`
	WaypointsRecorded int     `json:"waypointsRecorded"`
	Velocity          float64 `json:"velocity"`
	PillarID          string  `json:"pillarId"`
}
