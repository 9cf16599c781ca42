package services

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"esp32watch/config"
	"esp32watch/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramSender is the part of the bot API used to post messages
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramService posts detection alerts to one chat
type TelegramService struct {
	bot      TelegramSender
	chatID   int64
	location *time.Location
	logger   *zap.Logger
}

func NewTelegramService(cfg *config.Config, location *time.Location, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %v", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %v", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	if err := testTelegramConnection(bot, logger); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %v", err)
	}

	return NewTelegramServiceWithSender(bot, chatID, location, logger), nil
}

// NewTelegramServiceWithSender builds the service around an existing sender
func NewTelegramServiceWithSender(bot TelegramSender, chatID int64, location *time.Location, logger *zap.Logger) *TelegramService {
	if location == nil {
		location = time.UTC
	}
	return &TelegramService{
		bot:      bot,
		chatID:   chatID,
		location: location,
		logger:   logger,
	}
}

// testTelegramConnection checks the token with a few retries
func testTelegramConnection(bot *tgbotapi.BotAPI, logger *zap.Logger) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := bot.GetMe()
		if err == nil {
			logger.Info("Telegram connection successful")
			return nil
		}

		logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// Notify sends one message summarising every human event of the alert
func (ts *TelegramService) Notify(ctx context.Context, alert *models.DetectionAlert) error {
	if len(alert.Events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(ts.chatID, ts.formatDetectionMessage(alert))
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := ts.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending telegram message: %v", err)
	}

	ts.logger.Info("Sent detection alert",
		zap.String("batch_id", alert.BatchID),
		zap.Int("event_count", len(alert.Events)))
	return nil
}

// formatDetectionMessage renders a mobile-friendly HTML message
func (ts *TelegramService) formatDetectionMessage(alert *models.DetectionAlert) string {
	var sb strings.Builder

	sb.WriteString("🚨 <b>HUMAN DETECTED</b> 🚨\n\n")
	if len(alert.Events) > 1 {
		sb.WriteString(fmt.Sprintf("📦 <b>Events:</b> %d\n", len(alert.Events)))
	}
	if alert.BatchID != "" {
		sb.WriteString(fmt.Sprintf("🏷 <b>Batch:</b> <code>%s</code>\n", html.EscapeString(alert.BatchID)))
	}
	if len(alert.Events) > 1 || alert.BatchID != "" {
		sb.WriteString("\n")
	}

	for i, ev := range alert.Events {
		sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", html.EscapeString(ev.DeviceID)))
		sb.WriteString(fmt.Sprintf("📍 <b>Location:</b> %s\n", html.EscapeString(ev.Location)))
		sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n", ev.DetectionTime.In(ts.location).Format("2006-01-02 15:04:05")))
		sb.WriteString(fmt.Sprintf("🎯 <b>Confidence:</b> %s\n", formatConfidence(ev.Confidence)))
		if ev.DSPTime != nil || ev.ClassificationTime != nil || ev.AnomalyTime != nil {
			sb.WriteString(fmt.Sprintf("   └ DSP %.0f ms · Classification %.0f ms · Anomaly %.0f ms\n",
				valueOrZero(ev.DSPTime), valueOrZero(ev.ClassificationTime), valueOrZero(ev.AnomalyTime)))
		}
		if i < len(alert.Events)-1 {
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n💡 <b>Recommended Action:</b>\n")
	sb.WriteString("Please check the security system immediately.\n\n")
	sb.WriteString("🔴 <b>Status:</b> ATTENTION REQUIRED")

	return sb.String()
}

// SendStatusMessage sends a general status message
func (ts *TelegramService) SendStatusMessage(message string) error {
	msg := tgbotapi.NewMessage(ts.chatID, message)
	msg.ParseMode = "HTML"

	_, err := ts.bot.Send(msg)
	return err
}

// SendStartupMessage announces the service and its liveness threshold
func (ts *TelegramService) SendStartupMessage(threshold time.Duration) error {
	message := "🟢 <b>ESP32 Detection Dashboard Started</b>\n\n" +
		"🤖 Telegram notifications active\n" +
		fmt.Sprintf("⏱️ Devices go offline after %s without heartbeat\n\n", formatDuration(threshold)) +
		"✅ System is ready and operational!"

	return ts.SendStatusMessage(message)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}
