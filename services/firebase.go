package services

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"railguard/config"
	"railguard/models"
)

// FirestoreService is the remote alert store. Each first-sighting
// alert becomes one document in the configured collection; sync retries
// reuse a deterministic document id, so a retried submit overwrites
// its own earlier write instead of duplicating it.
type FirestoreService struct {
	client *firestore.Client
	config *config.Config
	logger *zap.Logger
}

func NewFirestoreService(cfg *config.Config, logger *zap.Logger) (*FirestoreService, error) {
	ctx := context.Background()

	conf := &firebase.Config{
		ProjectID: cfg.FirebaseProjectID,
	}

	opt := option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %v", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firestore client: %v", err)
	}

	fs := &FirestoreService{
		client: client,
		config: cfg,
		logger: logger,
	}

	// Test Firestore connection with retry
	if err := fs.testConnection(); err != nil {
		logger.Error("Firestore connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firestore connection test failed: %v", err)
	}

	return fs, nil
}

// testConnection tests Firestore connection with retry logic
func (fs *FirestoreService) testConnection() error {
	ctx := context.Background()
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firestore connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := fs.Ping(pingCtx)
		cancel()

		if err == nil {
			fs.logger.Info("Firestore connection successful")
			return nil
		}

		fs.logger.Warn("Firestore connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firestore after %d attempts", maxRetries)
}

// Ping checks Firestore reachability with a single-document read.
func (fs *FirestoreService) Ping(ctx context.Context) error {
	iter := fs.client.Collection(fs.config.FirebaseAlertCollection).Limit(1).Documents(ctx)
	defer iter.Stop()

	// An empty collection is a successful ping.
	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return err
	}
	return nil
}

// Submit writes one alert record to the remote collection.
func (fs *FirestoreService) Submit(ctx context.Context, record models.AlertRecord) error {
	key := record.Key()
	docID := fmt.Sprintf("%s__%s__%d", key.PillarID, key.VehicleID, record.Timestamp.Unix())

	doc := map[string]any{
		"elephantDetected":  true,
		"riskLevel":         string(record.RiskLevel),
		"trackKm":           record.TrackKm,
		"pillarId":          record.PillarID,
		"pillarName":        record.PillarName,
		"vehicleIdentifier": key.VehicleID,
		"vehicleLocation": map[string]float64{
			"latitude":  record.VehicleLat,
			"longitude": record.VehicleLon,
		},
		"timestamp":  record.Timestamp,
		"deviceInfo": record.DeviceInfo,
	}
	if record.HazardLocation != nil {
		doc["elephantLocation"] = map[string]any{
			"latitude":   record.HazardLocation.Latitude,
			"longitude":  record.HazardLocation.Longitude,
			"pillarId":   record.HazardLocation.PillarID,
			"pillarName": record.HazardLocation.PillarName,
		}
	}

	if _, err := fs.client.Collection(fs.config.FirebaseAlertCollection).Doc(docID).Set(ctx, doc); err != nil {
		return fmt.Errorf("writing alert document: %w", err)
	}

	fs.logger.Debug("Alert synced to Firestore",
		zap.String("doc_id", docID),
		zap.String("collection", fs.config.FirebaseAlertCollection),
	)
	return nil
}

// Close closes the Firestore connection
func (fs *FirestoreService) Close() error {
	fs.logger.Info("Closing Firestore service")
	return fs.client.Close()
}

var (
	_ RemoteAlertStore = (*FirestoreService)(nil)
	_ Pinger           = (*FirestoreService)(nil)
)
