package models

import "time"

// RiskLevel grades the vehicle's proximity to a detected hazard.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Track-distance thresholds in kilometers. Boundary values belong to
// the lower bucket: exactly 1.0 km is high, not critical.
const (
	criticalBelowKm = 1.0
	highBelowKm     = 2.0
	mediumBelowKm   = 7.0
)

// RiskFromTrackKm maps the track distance reported by the device into
// a discrete risk level.
func RiskFromTrackKm(trackKm float64) RiskLevel {
	switch {
	case trackKm < criticalBelowKm:
		return RiskCritical
	case trackKm < highBelowKm:
		return RiskHigh
	case trackKm < mediumBelowKm:
		return RiskMedium
	default:
		return RiskLow
	}
}

// DistanceInfo is the distance block of a device distance report.
type DistanceInfo struct {
	TrackKm           float64 `json:"track_km"`
	StraightKm        float64 `json:"straight_km"`
	NearestPillarKm   float64 `json:"nearestPillar_km"`
	NearestPillarName string  `json:"nearestPillarName"`
}

// HazardLocation is the reported position of the detected hazard,
// tagged with the pillar that sighted it.
type HazardLocation struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	PillarID   string  `json:"pillarId"`
	PillarName string  `json:"pillarName"`
}

// DistanceReport is the device's response to a position ping.
// Transient; only the latest value is retained.
type DistanceReport struct {
	Status           string          `json:"status"`
	ElephantDetected bool            `json:"elephantDetected"`
	ElephantLocation *HazardLocation `json:"elephantLocation,omitempty"`
	Distance         *DistanceInfo   `json:"distance,omitempty"`
	Message          string          `json:"message,omitempty"`
}

// Detection is the normalized event republished to downstream
// consumers when the device reports an active hazard.
type Detection struct {
	VehicleLocation Position        `json:"vehicleLocation"`
	HazardLocation  *HazardLocation `json:"hazardLocation,omitempty"`
	Distance        *DistanceInfo   `json:"distance,omitempty"`
	RiskLevel       RiskLevel       `json:"riskLevel"`
	Status          string          `json:"status"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Cleared reports that the device no longer sees the hazard. Consumers
// must treat this as clearing display state only.
type Cleared struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceStatus is the device's configuration summary.
type DeviceStatus struct {
	Status        string `json:"status"`
	PillarCount   int    `json:"pillarCount"`
	WaypointCount int    `json:"waypointCount"`
}
