package storage

const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS pillars (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    lat  REAL NOT NULL,
    lon  REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS waypoints (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    seq                  INTEGER NOT NULL,
    pillar_id            TEXT NOT NULL,
    lat                  REAL NOT NULL,
    lon                  REAL NOT NULL,
    distance_from_pillar REAL NOT NULL,
    real_distance        REAL NOT NULL,
    straight_distance    REAL NOT NULL,
    label                TEXT NOT NULL,
    created_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
    pillar_id  TEXT NOT NULL,
    vehicle_id TEXT NOT NULL,
    payload    TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (pillar_id, vehicle_id)
);

CREATE TABLE IF NOT EXISTS alert_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    payload    TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sync_queue (
    id         TEXT PRIMARY KEY,
    payload    TEXT NOT NULL,
    attempts   INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

const (
	upsertPillarSQL = `
INSERT INTO pillars (id, name, lat, lon)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    lat  = excluded.lat,
    lon  = excluded.lon`

	selectPillarsSQL = `
SELECT
    id,
    name,
    lat,
    lon
FROM pillars
ORDER BY name`

	selectPillarSQL = `
SELECT
    id,
    name,
    lat,
    lon
FROM pillars
WHERE
    id = ?`

	deletePillarsSQL = `DELETE FROM pillars`

	insertWaypointSQL = `
INSERT INTO waypoints (seq,
                       pillar_id,
                       lat,
                       lon,
                       distance_from_pillar,
                       real_distance,
                       straight_distance,
                       label,
                       created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectWaypointsSQL = `
SELECT
    seq,
    pillar_id,
    lat,
    lon,
    distance_from_pillar,
    real_distance,
    straight_distance,
    label,
    created_at
FROM waypoints
ORDER BY id`

	deleteWaypointsSQL = `DELETE FROM waypoints`

	insertAlertSQL = `
INSERT OR IGNORE INTO alerts (pillar_id, vehicle_id, payload, created_at)
VALUES (?, ?, ?, ?)`

	selectAlertSQL = `
SELECT COUNT(1) FROM alerts
WHERE
    pillar_id = ? AND vehicle_id = ?`

	selectAlertsSQL = `
SELECT payload FROM alerts
ORDER BY created_at DESC`

	countAlertsSQL = `SELECT COUNT(1) FROM alerts`

	deleteAlertSQL = `
DELETE FROM alerts
WHERE
    pillar_id = ? AND vehicle_id = ?`

	deletePillarAlertsSQL = `
DELETE FROM alerts
WHERE
    pillar_id = ?`

	deleteAlertsSQL = `DELETE FROM alerts`

	selectAlertPayloadSQL = `
SELECT payload FROM alerts
WHERE
    pillar_id = ? AND vehicle_id = ?`

	updateAlertPayloadSQL = `
UPDATE alerts
SET payload = ?
WHERE
    pillar_id = ? AND vehicle_id = ?`

	insertHistorySQL = `
INSERT INTO alert_history (payload, created_at)
VALUES (?, ?)`

	trimHistorySQL = `
DELETE FROM alert_history
WHERE id NOT IN (
    SELECT id FROM alert_history
    ORDER BY id DESC
    LIMIT ?
)`

	selectHistorySQL = `
SELECT payload FROM alert_history
ORDER BY id DESC
LIMIT ?`

	insertSyncItemSQL = `
INSERT INTO sync_queue (id, payload, attempts, created_at)
VALUES (?, ?, 0, ?)`

	selectSyncItemsSQL = `
SELECT
    id,
    payload,
    attempts,
    created_at
FROM sync_queue
ORDER BY created_at, id`

	deleteSyncItemSQL = `
DELETE FROM sync_queue
WHERE
    id = ?`

	bumpSyncAttemptsSQL = `
UPDATE sync_queue
SET attempts = attempts + 1
WHERE
    id = ?`

	selectSettingSQL = `
SELECT value FROM settings
WHERE
    key = ?`

	upsertSettingSQL = `
INSERT INTO settings (key, value)
VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`
)
