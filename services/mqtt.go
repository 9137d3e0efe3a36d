package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"railguard/config"
	"railguard/models"
)

// MQTTProvider bridges the onboard sensor unit to the motion and
// location pipelines. The unit publishes raw accelerometer frames and
// GPS fixes on two topics; subscribers get the stream throttled to
// their requested interval.
type MQTTProvider struct {
	config *config.Config
	logger *zap.Logger
	client mqtt.Client

	mu         sync.Mutex
	sensorSubs map[*streamSub[models.MotionSample]]struct{}
	gpsSubs    map[*streamSub[models.Position]]struct{}
	lastFix    models.Position
	haveFix    bool
	fixWaiters []chan models.Position
}

// streamSub throttles one subscriber to its requested interval. Its
// own lock serializes delivery against stop, so no callback runs after
// stop returns.
type streamSub[T any] struct {
	mu       sync.Mutex
	fn       func(T)
	interval time.Duration
	last     time.Time
	stopped  bool
}

func (s *streamSub[T]) deliver(value T, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || now.Sub(s.last) < s.interval {
		return
	}
	s.last = now
	s.fn(value)
}

func (s *streamSub[T]) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Wire formats published by the sensor unit. Timestamps are epoch
// milliseconds.
type accelFrame struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Timestamp int64   `json:"timestamp"`
}

type gpsFrame struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Timestamp int64   `json:"timestamp"`
}

func NewMQTTProvider(cfg *config.Config, logger *zap.Logger) (*MQTTProvider, error) {
	p := &MQTTProvider{
		config:     cfg,
		logger:     logger,
		sensorSubs: make(map[*streamSub[models.MotionSample]]struct{}),
		gpsSubs:    make(map[*streamSub[models.Position]]struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.MQTTBroker))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetUsername(cfg.MQTTUser)
	opts.SetPassword(cfg.MQTTPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
		p.subscribeTopics(client)
	}

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p.client = client
	return p, nil
}

// subscribeTopics runs on every (re)connect so subscriptions survive
// broker restarts.
func (p *MQTTProvider) subscribeTopics(client mqtt.Client) {
	if token := client.Subscribe(p.config.MQTTAccelTopic, 0, p.handleAccelMessage); token.Wait() && token.Error() != nil {
		p.logger.Error("Failed to subscribe to accelerometer topic",
			zap.String("topic", p.config.MQTTAccelTopic),
			zap.Error(token.Error()))
	}
	if token := client.Subscribe(p.config.MQTTGPSTopic, 0, p.handleGPSMessage); token.Wait() && token.Error() != nil {
		p.logger.Error("Failed to subscribe to GPS topic",
			zap.String("topic", p.config.MQTTGPSTopic),
			zap.Error(token.Error()))
	}
}

func (p *MQTTProvider) handleAccelMessage(_ mqtt.Client, msg mqtt.Message) {
	var frame accelFrame
	if err := json.Unmarshal(msg.Payload(), &frame); err != nil {
		p.logger.Warn("Invalid accelerometer frame", zap.Error(err))
		return
	}

	sample := models.MotionSample{
		X:         frame.X,
		Y:         frame.Y,
		Z:         frame.Z,
		Timestamp: frameTime(frame.Timestamp),
	}

	p.mu.Lock()
	subs := make([]*streamSub[models.MotionSample], 0, len(p.sensorSubs))
	for sub := range p.sensorSubs {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	now := time.Now()
	for _, sub := range subs {
		sub.deliver(sample, now)
	}
}

func (p *MQTTProvider) handleGPSMessage(_ mqtt.Client, msg mqtt.Message) {
	var frame gpsFrame
	if err := json.Unmarshal(msg.Payload(), &frame); err != nil {
		p.logger.Warn("Invalid GPS frame", zap.Error(err))
		return
	}

	fix := models.Position{
		Latitude:  frame.Latitude,
		Longitude: frame.Longitude,
		Timestamp: frameTime(frame.Timestamp),
	}

	p.mu.Lock()
	p.lastFix = fix
	p.haveFix = true
	waiters := p.fixWaiters
	p.fixWaiters = nil
	subs := make([]*streamSub[models.Position], 0, len(p.gpsSubs))
	for sub := range p.gpsSubs {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	for _, waiter := range waiters {
		waiter <- fix
	}

	now := time.Now()
	for _, sub := range subs {
		sub.deliver(fix, now)
	}
}

// Available reports whether the sensor unit's broker is reachable.
func (p *MQTTProvider) Available() bool {
	return p.client != nil && p.client.IsConnected()
}

// Subscribe registers a throttled accelerometer callback.
func (p *MQTTProvider) Subscribe(interval time.Duration, fn func(models.MotionSample)) (func(), error) {
	if !p.Available() {
		return nil, models.ErrSensorUnavailable
	}

	sub := &streamSub[models.MotionSample]{fn: fn, interval: interval}
	p.mu.Lock()
	p.sensorSubs[sub] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			sub.stop()
			p.mu.Lock()
			delete(p.sensorSubs, sub)
			p.mu.Unlock()
		})
	}
	return stop, nil
}

// Current returns the latest GPS fix, waiting for the first one when
// none has arrived yet.
func (p *MQTTProvider) Current(ctx context.Context) (models.Position, error) {
	p.mu.Lock()
	if p.haveFix {
		fix := p.lastFix
		p.mu.Unlock()
		return fix, nil
	}

	waiter := make(chan models.Position, 1)
	p.fixWaiters = append(p.fixWaiters, waiter)
	p.mu.Unlock()

	select {
	case fix := <-waiter:
		return fix, nil
	case <-ctx.Done():
		return models.Position{}, ctx.Err()
	}
}

// Watch registers a throttled GPS callback.
func (p *MQTTProvider) Watch(interval time.Duration, fn func(models.Position)) (func(), error) {
	if !p.Available() {
		return nil, models.ErrSensorUnavailable
	}

	sub := &streamSub[models.Position]{fn: fn, interval: interval}
	p.mu.Lock()
	p.gpsSubs[sub] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			sub.stop()
			p.mu.Lock()
			delete(p.gpsSubs, sub)
			p.mu.Unlock()
		})
	}
	return stop, nil
}

// Client exposes the underlying MQTT client for additional
// subscriptions on the same connection.
func (p *MQTTProvider) Client() mqtt.Client {
	return p.client
}

// Close disconnects from the broker.
func (p *MQTTProvider) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
	}
}

func frameTime(epochMs int64) time.Time {
	if epochMs <= 0 {
		return time.Now()
	}
	return time.UnixMilli(epochMs)
}

var (
	_ SensorProvider   = (*MQTTProvider)(nil)
	_ LocationProvider = (*MQTTProvider)(nil)
)
