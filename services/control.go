package services

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"railguard/config"
)

// controlCommand is one operator command from the command topic.
type controlCommand struct {
	Action       string  `json:"action"`
	PillarID     string  `json:"pillarId,omitempty"`
	VehicleID    string  `json:"vehicleId,omitempty"`
	TargetMeters float64 `json:"targetMeters,omitempty"`
	DeviceAddr   string  `json:"deviceAddr,omitempty"`
	Name         string  `json:"name,omitempty"`
	Latitude     float64 `json:"lat,omitempty"`
	Longitude    float64 `json:"lon,omitempty"`
	WaypointID   string  `json:"waypointId,omitempty"`

	// Surveyed rows for bulk track import, passed through to the device.
	Data json.RawMessage `json:"data,omitempty"`
}

// ControlService executes operator commands published on the MQTT
// command topic: calibration start/stop, forced sync drains, alert
// clears, and device address changes.
type ControlService struct {
	cfg         *config.Config
	logger      *zap.Logger
	calibration *CalibrationService
	alerts      *AlertService
	sync        *SyncService
	pillars     *PillarService
	waypoints   *WaypointService
}

func NewControlService(
	cfg *config.Config,
	logger *zap.Logger,
	calibration *CalibrationService,
	alerts *AlertService,
	syncService *SyncService,
	pillars *PillarService,
	waypoints *WaypointService,
) *ControlService {
	return &ControlService{
		cfg:         cfg,
		logger:      logger,
		calibration: calibration,
		alerts:      alerts,
		sync:        syncService,
		pillars:     pillars,
		waypoints:   waypoints,
	}
}

// Listen subscribes to the command topic on the given MQTT client and
// executes commands until ctx is cancelled.
func (c *ControlService) Listen(ctx context.Context, client mqtt.Client) error {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var cmd controlCommand
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			c.logger.Warn("Invalid control command", zap.Error(err))
			return
		}
		c.execute(ctx, cmd)
	}

	if token := client.Subscribe(c.cfg.MQTTCommandTopic, 1, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribing to command topic: %w", token.Error())
	}

	c.logger.Info("Control service listening",
		zap.String("topic", c.cfg.MQTTCommandTopic))

	<-ctx.Done()
	client.Unsubscribe(c.cfg.MQTTCommandTopic)
	return ctx.Err()
}

func (c *ControlService) execute(ctx context.Context, cmd controlCommand) {
	c.logger.Info("Executing control command", zap.String("action", cmd.Action))

	switch cmd.Action {
	case "start_calibration":
		if err := c.calibration.Start(ctx, cmd.PillarID, cmd.TargetMeters); err != nil {
			c.logger.Error("Calibration start failed",
				zap.String("pillar_id", cmd.PillarID),
				zap.Error(err))
		}

	case "stop_calibration":
		waypoints := c.calibration.Stop()
		c.logger.Info("Calibration stopped by operator",
			zap.Int("waypoints_recorded", len(waypoints)))

	case "sync_now":
		c.sync.Kick()

	case "clear_alert":
		if err := c.alerts.ClearAlert(ctx, cmd.PillarID, cmd.VehicleID); err != nil {
			c.logger.Error("Alert clear failed",
				zap.String("pillar_id", cmd.PillarID),
				zap.Error(err))
		}

	case "clear_all_alerts":
		if err := c.alerts.ClearAll(ctx); err != nil {
			c.logger.Error("Alert clear-all failed", zap.Error(err))
		}

	case "set_device_addr":
		if cmd.DeviceAddr == "" {
			c.logger.Warn("set_device_addr command missing address")
			return
		}
		if err := c.pillars.SetDeviceAddr(ctx, cmd.DeviceAddr); err != nil {
			c.logger.Error("Device address change failed", zap.Error(err))
		}

	case "add_pillar":
		if err := c.pillars.Add(ctx, cmd.Name, cmd.Latitude, cmd.Longitude); err != nil {
			c.logger.Error("Pillar add failed", zap.String("name", cmd.Name), zap.Error(err))
		}

	case "delete_pillar":
		if err := c.pillars.Delete(ctx, cmd.PillarID); err != nil {
			c.logger.Error("Pillar delete failed", zap.String("pillar_id", cmd.PillarID), zap.Error(err))
		}

	case "delete_waypoint":
		if err := c.waypoints.Delete(ctx, cmd.WaypointID); err != nil {
			c.logger.Error("Waypoint delete failed", zap.String("waypoint_id", cmd.WaypointID), zap.Error(err))
		}

	case "import_track_data":
		if err := c.waypoints.BulkImport(ctx, cmd.Data); err != nil {
			c.logger.Error("Track data import failed", zap.Error(err))
		}

	case "refresh_pillars":
		if _, err := c.pillars.Fetch(ctx); err != nil {
			c.logger.Error("Pillar refresh failed", zap.Error(err))
		}

	default:
		c.logger.Warn("Unknown control command", zap.String("action", cmd.Action))
	}
}
