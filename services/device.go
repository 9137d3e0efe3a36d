package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"railguard/config"
	"railguard/models"
)

// noPillarsSentinel is the device's empty-configuration message. It is
// a recognized non-error state, not a gateway fault.
const noPillarsSentinel = "No pillars found"

// DeviceClient talks to the trackside hazard-detection device over its
// HTTP API. The device address is mutable at runtime (the unit serves
// its own AP with a default address, but can join the site network).
type DeviceClient struct {
	logger     *zap.Logger
	httpClient *http.Client

	mu   sync.RWMutex
	addr string
}

type deviceResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func NewDeviceClient(cfg *config.Config, logger *zap.Logger) *DeviceClient {
	return &DeviceClient{
		logger: logger,
		addr:   cfg.DeviceAddr,
		httpClient: &http.Client{
			Timeout: cfg.DeviceTimeout,
		},
	}
}

// Addr returns the device address currently in use.
func (d *DeviceClient) Addr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addr
}

// SetAddr switches the client to a new device address.
func (d *DeviceClient) SetAddr(addr string) {
	d.mu.Lock()
	d.addr = addr
	d.mu.Unlock()
}

// CalculateDistances sends the vehicle's position and returns the
// device's distance report for the nearest pillar.
func (d *DeviceClient) CalculateDistances(ctx context.Context, lat, lon float64) (models.DistanceReport, error) {
	var report models.DistanceReport
	payload := map[string]float64{"lat": lat, "lon": lon}
	if err := d.post(ctx, "/gps", payload, &report); err != nil {
		return models.DistanceReport{}, err
	}
	return report, nil
}

// Status returns the device's configuration summary.
func (d *DeviceClient) Status(ctx context.Context) (models.DeviceStatus, error) {
	var status models.DeviceStatus
	if err := d.get(ctx, "/status", &status); err != nil {
		return models.DeviceStatus{}, err
	}
	return status, nil
}

// Pillars fetches the device's pillar list.
func (d *DeviceClient) Pillars(ctx context.Context) ([]models.Pillar, error) {
	var response struct {
		deviceResponse
		Pillars []models.Pillar `json:"pillars"`
	}
	if err := d.get(ctx, "/pillars", &response); err != nil {
		return nil, err
	}
	return response.Pillars, nil
}

// Waypoints fetches the device's waypoint list.
func (d *DeviceClient) Waypoints(ctx context.Context) ([]models.Waypoint, error) {
	var response struct {
		deviceResponse
		Waypoints []models.Waypoint `json:"waypoints"`
	}
	if err := d.get(ctx, "/waypoints", &response); err != nil {
		return nil, err
	}
	return response.Waypoints, nil
}

// AddPillar registers a new reference point on the device.
func (d *DeviceClient) AddPillar(ctx context.Context, name string, lat, lon float64) error {
	payload := map[string]any{"name": name, "lat": lat, "lon": lon}
	return d.post(ctx, "/pillar/add", payload, nil)
}

// DeletePillar removes a pillar by id.
func (d *DeviceClient) DeletePillar(ctx context.Context, id string) error {
	return d.post(ctx, "/pillar/delete", map[string]any{"id": id}, nil)
}

// AddWaypoint persists a calibration waypoint on the device.
func (d *DeviceClient) AddWaypoint(ctx context.Context, pillarID string, lat, lon, distanceFromPillar float64, label string) error {
	payload := map[string]any{
		"pillarId":           pillarID,
		"lat":                lat,
		"lon":                lon,
		"distanceFromPillar": distanceFromPillar,
		"description":        label,
	}
	return d.post(ctx, "/waypoint/add", payload, nil)
}

// UpdateWaypoint updates a stored waypoint's fields.
func (d *DeviceClient) UpdateWaypoint(ctx context.Context, id string, fields map[string]any) error {
	payload := map[string]any{"id": id}
	for k, v := range fields {
		payload[k] = v
	}
	return d.post(ctx, "/waypoint/update", payload, nil)
}

// DeleteWaypoint removes a waypoint by id.
func (d *DeviceClient) DeleteWaypoint(ctx context.Context, id string) error {
	return d.post(ctx, "/waypoint/delete", map[string]any{"id": id}, nil)
}

// Import bulk-loads pillar and waypoint rows onto the device.
func (d *DeviceClient) Import(ctx context.Context, data any) error {
	return d.post(ctx, "/import", map[string]any{"data": data}, nil)
}

// ClearAll wipes all pillars and waypoints from the device.
func (d *DeviceClient) ClearAll(ctx context.Context) error {
	return d.post(ctx, "/clear", map[string]any{}, nil)
}

func (d *DeviceClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return d.do(req, out)
}

func (d *DeviceClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return d.do(req, out)
}

func (d *DeviceClient) do(req *http.Request, out any) error {
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("device request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading device response: %w", err)
	}

	var status deviceResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("decoding device response: %w", err)
	}

	// The device reports failures inside the body; surface its raw
	// message, except the empty-configuration sentinel.
	if status.Status == "error" || resp.StatusCode >= 400 {
		if strings.Contains(status.Message, noPillarsSentinel) {
			return models.ErrNoPillars
		}
		if status.Message != "" {
			return fmt.Errorf("device error: %s", status.Message)
		}
		return fmt.Errorf("device error: %s", resp.Status)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding device response: %w", err)
		}
	}
	return nil
}

func (d *DeviceClient) endpoint(path string) string {
	addr := d.Addr()
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return addr + path
}

var _ WaypointRecorder = (*DeviceClient)(nil)
