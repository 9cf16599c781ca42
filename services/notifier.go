package services

import (
	"context"
	"errors"
	"fmt"

	"esp32watch/models"

	"go.uber.org/zap"
)

// Notifier delivers a human detection alert over one channel
type Notifier interface {
	Notify(ctx context.Context, alert *models.DetectionAlert) error
}

// NamedNotifier attaches a channel name used in logs
type NamedNotifier struct {
	Name     string
	Notifier Notifier
}

// MultiNotifier sends an alert over every configured channel.
// A failing channel does not stop the others.
type MultiNotifier struct {
	channels []NamedNotifier
	logger   *zap.Logger
}

func NewMultiNotifier(logger *zap.Logger, channels ...NamedNotifier) *MultiNotifier {
	return &MultiNotifier{
		channels: channels,
		logger:   logger,
	}
}

// Add registers another channel
func (m *MultiNotifier) Add(name string, n Notifier) {
	m.channels = append(m.channels, NamedNotifier{Name: name, Notifier: n})
}

func (m *MultiNotifier) Len() int {
	return len(m.channels)
}

func (m *MultiNotifier) Notify(ctx context.Context, alert *models.DetectionAlert) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Notifier.Notify(ctx, alert); err != nil {
			m.logger.Error("Failed to send detection alert",
				zap.String("channel", ch.Name),
				zap.Int("event_count", len(alert.Events)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
			continue
		}
		m.logger.Info("Detection alert sent",
			zap.String("channel", ch.Name),
			zap.Int("event_count", len(alert.Events)))
	}
	return errors.Join(errs...)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, alert *models.DetectionAlert) error

func (f NotifierFunc) Notify(ctx context.Context, alert *models.DetectionAlert) error {
	return f(ctx, alert)
}
