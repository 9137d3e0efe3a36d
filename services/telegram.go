package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"railguard/config"
	"railguard/models"
)

// TelegramService pushes first-sighting alerts to the operations chat.
// One message per alert; the dedup store already guarantees at most one
// alert per (pillar, vehicle) pair, so no extra throttling is needed.
type TelegramService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	config *config.Config
	logger *zap.Logger
}

func NewTelegramService(cfg *config.Config, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %v", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %v", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	ts := &TelegramService{
		bot:    bot,
		chatID: chatID,
		config: cfg,
		logger: logger,
	}

	// Test Telegram connection with retry
	if err := ts.testConnection(); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %v", err)
	}

	return ts, nil
}

// testConnection tests Telegram connection with retry logic
func (ts *TelegramService) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ts.logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := ts.bot.GetMe()

		if err == nil {
			ts.logger.Info("Telegram connection successful")
			return nil
		}

		ts.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// NotifyFirstAlert sends the first-sighting alert for a (pillar,
// vehicle) pair to the operations chat.
func (ts *TelegramService) NotifyFirstAlert(record models.AlertRecord) error {
	msg := tgbotapi.NewMessage(ts.chatID, ts.formatAlertMessage(record))
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := ts.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending telegram message: %v", err)
	}

	ts.logger.Info("Sent sighting alert",
		zap.String("pillar_id", record.PillarID),
		zap.String("vehicle_id", record.VehicleID),
		zap.String("risk_level", string(record.RiskLevel)))
	return nil
}

func (ts *TelegramService) formatAlertMessage(record models.AlertRecord) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s <b>ELEPHANT SIGHTING</b>\n\n", riskEmoji(record.RiskLevel)))

	pillar := record.PillarName
	if pillar == "" {
		pillar = record.PillarID
	}
	sb.WriteString(fmt.Sprintf("<b>Pillar:</b> %s\n", pillar))
	sb.WriteString(fmt.Sprintf("<b>Vehicle:</b> %s\n", record.VehicleID))
	sb.WriteString(fmt.Sprintf("<b>Time:</b> %s\n\n", record.Timestamp.Format("2006-01-02 15:04:05")))

	sb.WriteString(fmt.Sprintf("<b>Risk:</b> %s\n", strings.ToUpper(string(record.RiskLevel))))
	sb.WriteString(fmt.Sprintf("<b>Track Distance:</b> %.2f km\n", record.TrackKm))

	if record.HazardLocation != nil {
		sb.WriteString(fmt.Sprintf("<b>Sighting:</b> %.5f, %.5f\n",
			record.HazardLocation.Latitude, record.HazardLocation.Longitude))
	}
	sb.WriteString(fmt.Sprintf("<b>Vehicle Position:</b> %.5f, %.5f",
		record.VehicleLat, record.VehicleLon))

	return sb.String()
}

// SendStatusMessage sends a general status message
func (ts *TelegramService) SendStatusMessage(message string) error {
	msg := tgbotapi.NewMessage(ts.chatID, message)
	msg.ParseMode = "HTML"

	_, err := ts.bot.Send(msg)
	return err
}

// SendStartupMessage sends a message when the service starts
func (ts *TelegramService) SendStartupMessage() error {
	message := "<b>RailGuard Agent Started</b>\n\n" +
		"Position polling active\n" +
		"Alert sync to Firestore enabled\n" +
		"Operations notifications active"

	return ts.SendStatusMessage(message)
}

func riskEmoji(level models.RiskLevel) string {
	switch level {
	case models.RiskCritical:
		return "\U0001F6A8"
	case models.RiskHigh:
		return "⚠️"
	case models.RiskMedium:
		return "\U0001F7E1"
	default:
		return "\U0001F7E2"
	}
}

var _ FirstAlertNotifier = (*TelegramService)(nil)
