package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Vehicle identity used for alert deduplication (train number or route id)
	VehicleID string

	// Local persistent store
	SQLitePath string

	// Hazard detection device (trackside gateway)
	DeviceAddr    string
	DeviceTimeout time.Duration

	// Position poller
	PollInterval time.Duration

	// Onboard sensor unit (MQTT transport)
	MQTTBroker     string
	MQTTUser       string
	MQTTPass       string
	MQTTClientID   string
	MQTTAccelTopic string
	MQTTGPSTopic   string

	// Operator command channel
	MQTTCommandTopic string

	// Remote alert store (Firestore)
	FirebaseProjectID          string
	FirebaseServiceAccountJSON string
	FirebaseAlertCollection    string

	// Optional operations channel
	TelegramBotToken string
	TelegramChatID   string

	// Optional downstream event broker
	RabbitMQURL      string
	RabbitMQExchange string

	// Connectivity monitor
	ProbeInterval time.Duration

	// Dead-reckoning tuning. These values are empirically tuned against
	// real walking data; changing them changes recorded distances.
	SensorInterval      time.Duration
	BaselineSamples     int
	BaselineTimeout     time.Duration
	CalibrationGPSEvery time.Duration
	DeltaThreshold      float64
	AbsThreshold        float64
	AxisThreshold       float64
	SmoothingAlpha      float64
	MaxWalkingSpeed     float64
	StationaryFrames    int
	VelocityHistorySize int
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		VehicleID: getEnv("VEHICLE_ID", ""),

		SQLitePath: getEnv("SQLITE_PATH", "railguard.db"),

		DeviceAddr:    getEnv("DEVICE_ADDR", "192.168.4.1"),
		DeviceTimeout: time.Duration(getEnvInt("DEVICE_TIMEOUT_SECONDS", 5)) * time.Second,

		PollInterval: time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)) * time.Second,

		MQTTBroker:     getEnv("MQTT_BROKER", "localhost:1883"),
		MQTTUser:       getEnv("MQTT_USER", ""),
		MQTTPass:       getEnv("MQTT_PASS", ""),
		MQTTClientID:   getEnv("MQTT_CLIENT_ID", "railguard"),
		MQTTAccelTopic: getEnv("MQTT_ACCEL_TOPIC", "railguard/accel"),
		MQTTGPSTopic:   getEnv("MQTT_GPS_TOPIC", "railguard/gps"),

		MQTTCommandTopic: getEnv("MQTT_COMMAND_TOPIC", "railguard/commands"),

		FirebaseProjectID:          getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		FirebaseAlertCollection:    getEnv("FIREBASE_ALERT_COLLECTION", "first_alerts"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "railguard.events"),

		ProbeInterval: time.Duration(getEnvInt("PROBE_INTERVAL_SECONDS", 15)) * time.Second,

		SensorInterval:      time.Duration(getEnvInt("SENSOR_INTERVAL_MS", 50)) * time.Millisecond,
		BaselineSamples:     getEnvInt("BASELINE_SAMPLES", 50),
		BaselineTimeout:     time.Duration(getEnvInt("BASELINE_TIMEOUT_SECONDS", 5)) * time.Second,
		CalibrationGPSEvery: time.Duration(getEnvInt("CALIBRATION_GPS_SECONDS", 3)) * time.Second,
		DeltaThreshold:      getEnvFloat("MOTION_DELTA_THRESHOLD", 0.03),
		AbsThreshold:        getEnvFloat("MOTION_ABS_THRESHOLD", 0.05),
		AxisThreshold:       getEnvFloat("MOTION_AXIS_THRESHOLD", 0.02),
		SmoothingAlpha:      getEnvFloat("MOTION_SMOOTHING_ALPHA", 0.4),
		MaxWalkingSpeed:     getEnvFloat("MOTION_MAX_WALKING_SPEED", 1.6),
		StationaryFrames:    getEnvInt("MOTION_STATIONARY_FRAMES", 5),
		VelocityHistorySize: getEnvInt("MOTION_VELOCITY_HISTORY", 10),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
