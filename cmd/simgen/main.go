package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	hz         = flag.Int("hz", 20, "Accelerometer frames per second")
	walking    = flag.Bool("walking", true, "Simulate a walking operator (false = stationary)")
	startLat   = flag.Float64("lat", 6.9271, "Start latitude")
	startLon   = flag.Float64("lon", 79.8612, "Start longitude")
	heading    = flag.Float64("heading", 45.0, "Walking heading in degrees")
	speed      = flag.Float64("speed", 0.4, "Walking speed in m/s")
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
	accelTopic = flag.String("accel-topic", "railguard/accel", "Accelerometer topic")
	gpsTopic   = flag.String("gps-topic", "railguard/gps", "GPS topic")
)

// WalkSimulator produces accelerometer frames that look like a person
// walking: a periodic step oscillation on top of the gravity baseline,
// plus per-axis noise. GPS fixes advance along the configured heading.
type WalkSimulator struct {
	walking bool
	lat     float64
	lon     float64
	heading float64
	speed   float64
	phase   float64
	logger  *zap.Logger
}

func NewWalkSimulator(walking bool, lat, lon, heading, speed float64, logger *zap.Logger) *WalkSimulator {
	return &WalkSimulator{
		walking: walking,
		lat:     lat,
		lon:     lon,
		heading: heading,
		speed:   speed,
		logger:  logger,
	}
}

// NextAccelFrame generates one accelerometer frame in g.
func (w *WalkSimulator) NextAccelFrame() map[string]any {
	// Phone-at-rest baseline: ~1g on Z
	x := (rand.Float64() - 0.5) * 0.01
	y := (rand.Float64() - 0.5) * 0.01
	z := 1.0 + (rand.Float64()-0.5)*0.01

	if w.walking {
		// ~2 Hz step cadence
		w.phase += 2 * math.Pi * 2.0 / 20.0
		stepAmp := 0.08 + rand.Float64()*0.04
		z += stepAmp * math.Sin(w.phase)
		x += stepAmp * 0.3 * math.Cos(w.phase)
		y += stepAmp * 0.2 * math.Sin(w.phase/2)
	}

	return map[string]any{
		"x":         math.Round(x*10000) / 10000,
		"y":         math.Round(y*10000) / 10000,
		"z":         math.Round(z*10000) / 10000,
		"timestamp": time.Now().UnixMilli(),
	}
}

// NextGPSFix advances the position along the heading and returns a fix.
func (w *WalkSimulator) NextGPSFix(elapsed time.Duration) map[string]any {
	if w.walking {
		meters := w.speed * elapsed.Seconds()
		rad := w.heading * math.Pi / 180.0
		// Rough meters-to-degrees conversion, fine for short walks
		w.lat += (meters * math.Cos(rad)) / 111320.0
		w.lon += (meters * math.Sin(rad)) / (111320.0 * math.Cos(w.lat*math.Pi/180.0))
	}

	// GPS jitter
	jitterLat := (rand.Float64() - 0.5) * 0.00002
	jitterLon := (rand.Float64() - 0.5) * 0.00002

	return map[string]any{
		"lat":       w.lat + jitterLat,
		"lon":       w.lon + jitterLon,
		"timestamp": time.Now().UnixMilli(),
	}
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Sensor unit simulator started",
		zap.Int("hz", *hz),
		zap.Bool("walking", *walking),
		zap.Float64("speed_mps", *speed),
		zap.String("mqtt_broker", *mqttBroker),
		zap.String("accel_topic", *accelTopic),
		zap.String("gps_topic", *gpsTopic),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
	opts.SetClientID("railguard-simgen")
	opts.SetUsername(*mqttUser)
	opts.SetPassword(*mqttPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer mqttClient.Disconnect(250)

	sim := NewWalkSimulator(*walking, *startLat, *startLon, *heading, *speed, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping simulator")
		cancel()
	}()

	accelInterval := time.Second / time.Duration(*hz)
	accelTicker := time.NewTicker(accelInterval)
	defer accelTicker.Stop()

	gpsTicker := time.NewTicker(1 * time.Second)
	defer gpsTicker.Stop()

	frameCount := 0
	startTime := time.Now()
	lastGPS := startTime

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(startTime)
			logger.Info("Shutting down",
				zap.Int("frames_published", frameCount),
				zap.Duration("uptime", elapsed),
			)
			mqttClient.Disconnect(250)
			return

		case <-accelTicker.C:
			frame := sim.NextAccelFrame()
			payload, err := json.Marshal(frame)
			if err != nil {
				logger.Error("Failed to marshal accel frame", zap.Error(err))
				continue
			}

			token := mqttClient.Publish(*accelTopic, 0, false, payload)
			if token.Wait() && token.Error() != nil {
				logger.Error("Failed to publish accel frame", zap.Error(token.Error()))
				continue
			}
			frameCount++

			if frameCount%1000 == 0 {
				logger.Info("Frames published",
					zap.Int("count", frameCount),
					zap.Float64("rate", float64(frameCount)/time.Since(startTime).Seconds()),
				)
			}

		case now := <-gpsTicker.C:
			fix := sim.NextGPSFix(now.Sub(lastGPS))
			lastGPS = now

			payload, err := json.Marshal(fix)
			if err != nil {
				logger.Error("Failed to marshal GPS fix", zap.Error(err))
				continue
			}

			token := mqttClient.Publish(*gpsTopic, 0, false, payload)
			if token.Wait() && token.Error() != nil {
				logger.Error("Failed to publish GPS fix", zap.Error(token.Error()))
				continue
			}

			logger.Debug("GPS fix published",
				zap.Float64("lat", fix["lat"].(float64)),
				zap.Float64("lon", fix["lon"].(float64)),
			)
		}
	}
}
