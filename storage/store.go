// Package storage is the local persistent store: pillar and waypoint
// caches, the alert dedup table, the offline sync queue and device
// settings, all in a single SQLite database.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"railguard/models"
)

const historyCap = 100

// Store handles all local database operations.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and initializes the
// schema. WAL keeps sensor-callback writes from blocking reads.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(initSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveFirstAlert inserts the record unless its (pillar, vehicle) key
// already exists. Returns true only when this call created the row;
// the check and the insert are a single atomic statement.
func (s *Store) SaveFirstAlert(ctx context.Context, record models.AlertRecord) (bool, error) {
	key := record.Key()

	payload, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshaling alert: %w", err)
	}

	result, err := s.db.ExecContext(ctx, insertAlertSQL, key.PillarID, key.VehicleID, string(payload), record.Timestamp)
	if err != nil {
		return false, fmt.Errorf("inserting alert: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert result: %w", err)
	}
	return n > 0, nil
}

// HasAlert reports whether the (pillar, vehicle) key already alerted.
func (s *Store) HasAlert(ctx context.Context, key models.AlertKey) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, selectAlertSQL, key.PillarID, key.VehicleID).Scan(&n); err != nil {
		return false, fmt.Errorf("querying alert: %w", err)
	}
	return n > 0, nil
}

// Alerts returns every stored first-sighting alert, newest first.
func (s *Store) Alerts(ctx context.Context) ([]models.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectAlertsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	return scanAlertPayloads(rows)
}

// AlertCount returns the number of stored first-sighting alerts.
func (s *Store) AlertCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, countAlertsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting alerts: %w", err)
	}
	return n, nil
}

// SetAlertSyncState updates the stored record's sync state, e.g. when
// the offline queue finally reaches the remote store.
func (s *Store) SetAlertSyncState(ctx context.Context, key models.AlertKey, state models.SyncState) error {
	var payload string
	err := s.db.QueryRowContext(ctx, selectAlertPayloadSQL, key.PillarID, key.VehicleID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil // cleared by the user before sync completed
	}
	if err != nil {
		return fmt.Errorf("querying alert payload: %w", err)
	}

	var record models.AlertRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return fmt.Errorf("unmarshaling alert payload: %w", err)
	}
	record.SyncState = state

	updated, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling alert payload: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, updateAlertPayloadSQL, string(updated), key.PillarID, key.VehicleID); err != nil {
		return fmt.Errorf("updating alert payload: %w", err)
	}
	return nil
}

// ClearAlert removes the single (pillar, vehicle) entry.
func (s *Store) ClearAlert(ctx context.Context, key models.AlertKey) error {
	if _, err := s.db.ExecContext(ctx, deleteAlertSQL, key.PillarID, key.VehicleID); err != nil {
		return fmt.Errorf("clearing alert: %w", err)
	}
	return nil
}

// ClearPillarAlerts removes every entry for the pillar across all
// vehicles.
func (s *Store) ClearPillarAlerts(ctx context.Context, pillarID string) error {
	if _, err := s.db.ExecContext(ctx, deletePillarAlertsSQL, pillarID); err != nil {
		return fmt.Errorf("clearing pillar alerts: %w", err)
	}
	return nil
}

// ClearAllAlerts removes every dedup entry.
func (s *Store) ClearAllAlerts(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, deleteAlertsSQL); err != nil {
		return fmt.Errorf("clearing alerts: %w", err)
	}
	return nil
}

// AppendHistory appends the record to the bounded history log,
// evicting the oldest entries beyond the capacity.
func (s *Store) AppendHistory(ctx context.Context, record models.AlertRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling history entry: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertHistorySQL, string(payload), record.Timestamp); err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, trimHistorySQL, historyCap); err != nil {
		return fmt.Errorf("trimming history: %w", err)
	}

	return tx.Commit()
}

// History returns up to limit history entries, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	if limit <= 0 || limit > historyCap {
		limit = historyCap
	}

	rows, err := s.db.QueryContext(ctx, selectHistorySQL, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	return scanAlertPayloads(rows)
}

// EnqueueSync appends the record to the offline sync queue.
func (s *Store) EnqueueSync(ctx context.Context, id string, record models.AlertRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling sync item: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, insertSyncItemSQL, id, string(payload), time.Now().UTC()); err != nil {
		return fmt.Errorf("enqueueing sync item: %w", err)
	}
	return nil
}

// PendingSync returns every queued item in FIFO order.
func (s *Store) PendingSync(ctx context.Context) ([]models.SyncItem, error) {
	rows, err := s.db.QueryContext(ctx, selectSyncItemsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying sync queue: %w", err)
	}
	defer rows.Close()

	var items []models.SyncItem
	for rows.Next() {
		var item models.SyncItem
		var payload string
		if err := rows.Scan(&item.ID, &payload, &item.Attempts, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning sync item: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &item.Record); err != nil {
			return nil, fmt.Errorf("unmarshaling sync item %s: %w", item.ID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteSync removes an item that reached the remote store.
func (s *Store) DeleteSync(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, deleteSyncItemSQL, id); err != nil {
		return fmt.Errorf("deleting sync item: %w", err)
	}
	return nil
}

// BumpSyncAttempts increments the retry counter for a failed item.
func (s *Store) BumpSyncAttempts(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, bumpSyncAttemptsSQL, id); err != nil {
		return fmt.Errorf("updating sync attempts: %w", err)
	}
	return nil
}

// ReplacePillars replaces the pillar cache with the device's list.
func (s *Store) ReplacePillars(ctx context.Context, pillars []models.Pillar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning pillar transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deletePillarsSQL); err != nil {
		return fmt.Errorf("clearing pillar cache: %w", err)
	}
	for _, p := range pillars {
		if _, err := tx.ExecContext(ctx, upsertPillarSQL, p.ID, p.Name, p.Latitude, p.Longitude); err != nil {
			return fmt.Errorf("caching pillar %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// Pillars returns the cached pillar list.
func (s *Store) Pillars(ctx context.Context) ([]models.Pillar, error) {
	rows, err := s.db.QueryContext(ctx, selectPillarsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying pillars: %w", err)
	}
	defer rows.Close()

	var pillars []models.Pillar
	for rows.Next() {
		var p models.Pillar
		if err := rows.Scan(&p.ID, &p.Name, &p.Latitude, &p.Longitude); err != nil {
			return nil, fmt.Errorf("scanning pillar: %w", err)
		}
		pillars = append(pillars, p)
	}
	return pillars, rows.Err()
}

// Pillar returns a cached pillar by id, or models.ErrPillarNotFound.
func (s *Store) Pillar(ctx context.Context, id string) (models.Pillar, error) {
	var p models.Pillar
	err := s.db.QueryRowContext(ctx, selectPillarSQL, id).Scan(&p.ID, &p.Name, &p.Latitude, &p.Longitude)
	if err == sql.ErrNoRows {
		return models.Pillar{}, models.ErrPillarNotFound
	}
	if err != nil {
		return models.Pillar{}, fmt.Errorf("querying pillar: %w", err)
	}
	return p, nil
}

// ReplaceWaypoints replaces the waypoint cache with the device's list.
func (s *Store) ReplaceWaypoints(ctx context.Context, waypoints []models.Waypoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning waypoint transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteWaypointsSQL); err != nil {
		return fmt.Errorf("clearing waypoint cache: %w", err)
	}
	for _, w := range waypoints {
		if err := insertWaypointTx(ctx, tx, w); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// AppendWaypoint caches a single newly recorded waypoint.
func (s *Store) AppendWaypoint(ctx context.Context, w models.Waypoint) error {
	_, err := s.db.ExecContext(ctx, insertWaypointSQL,
		w.SequenceNumber, w.PillarID, w.Latitude, w.Longitude,
		w.DistanceFromPillar, w.RealDistance, w.StraightDistance, w.Label, w.Timestamp)
	if err != nil {
		return fmt.Errorf("caching waypoint: %w", err)
	}
	return nil
}

// Waypoints returns the cached waypoint list in insertion order.
func (s *Store) Waypoints(ctx context.Context) ([]models.Waypoint, error) {
	rows, err := s.db.QueryContext(ctx, selectWaypointsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying waypoints: %w", err)
	}
	defer rows.Close()

	var waypoints []models.Waypoint
	for rows.Next() {
		var w models.Waypoint
		if err := rows.Scan(&w.SequenceNumber, &w.PillarID, &w.Latitude, &w.Longitude,
			&w.DistanceFromPillar, &w.RealDistance, &w.StraightDistance, &w.Label, &w.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning waypoint: %w", err)
		}
		waypoints = append(waypoints, w)
	}
	return waypoints, rows.Err()
}

// Setting returns the stored value for key, or empty string when unset.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, selectSettingSQL, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a configuration value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, upsertSettingSQL, key, value); err != nil {
		return fmt.Errorf("storing setting %s: %w", key, err)
	}
	return nil
}

func insertWaypointTx(ctx context.Context, tx *sql.Tx, w models.Waypoint) error {
	_, err := tx.ExecContext(ctx, insertWaypointSQL,
		w.SequenceNumber, w.PillarID, w.Latitude, w.Longitude,
		w.DistanceFromPillar, w.RealDistance, w.StraightDistance, w.Label, w.Timestamp)
	if err != nil {
		return fmt.Errorf("caching waypoint %d: %w", w.SequenceNumber, err)
	}
	return nil
}

func scanAlertPayloads(rows *sql.Rows) ([]models.AlertRecord, error) {
	var records []models.AlertRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning alert payload: %w", err)
		}
		var record models.AlertRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("unmarshaling alert payload: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
