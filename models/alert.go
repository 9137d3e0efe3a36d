package models

import "time"

// UnknownVehicle is the vehicle component of an alert key when the
// vehicle has no configured identifier.
const UnknownVehicle = "unknown"

// AlertKey identifies the one alert a (pillar, vehicle) pair may raise.
// A typed two-column key avoids delimiter collisions in raw identifiers.
type AlertKey struct {
	PillarID  string
	VehicleID string
}

// NewAlertKey normalizes an empty vehicle identifier to UnknownVehicle.
func NewAlertKey(pillarID, vehicleID string) AlertKey {
	if vehicleID == "" {
		vehicleID = UnknownVehicle
	}
	return AlertKey{PillarID: pillarID, VehicleID: vehicleID}
}

// SyncState tracks an alert's progress toward the remote store.
type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
)

// AlertRecord is the first-sighting alert for a (pillar, vehicle)
// pair. Created once per key and never duplicated until the key is
// explicitly cleared.
type AlertRecord struct {
	PillarID       string          `json:"pillarId"`
	PillarName     string          `json:"pillarName"`
	VehicleID      string          `json:"vehicleId"`
	RiskLevel      RiskLevel       `json:"riskLevel"`
	Timestamp      time.Time       `json:"timestamp"`
	HazardLocation *HazardLocation `json:"elephantLocation,omitempty"`
	VehicleLat     float64         `json:"vehicleLat"`
	VehicleLon     float64         `json:"vehicleLon"`
	TrackKm        float64         `json:"trackKm"`
	DeviceInfo     string          `json:"deviceInfo,omitempty"`
	SyncState      SyncState       `json:"syncState"`
}

// Key returns the dedup key for the record.
func (r AlertRecord) Key() AlertKey {
	return NewAlertKey(r.PillarID, r.VehicleID)
}

// SyncItem is one not-yet-acknowledged alert waiting in the offline
// sync queue.
type SyncItem struct {
	ID        string      `json:"id"`
	Record    AlertRecord `json:"record"`
	Attempts  int         `json:"attempts"`
	CreatedAt time.Time   `json:"createdAt"`
}
