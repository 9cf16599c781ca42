package services

import (
	"context"
	"errors"
	"testing"

	"esp32watch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMultiNotifier_ContinuesAfterFailure(t *testing.T) {
	var calls []string
	failing := NotifierFunc(func(ctx context.Context, alert *models.DetectionAlert) error {
		calls = append(calls, "email")
		return errors.New("smtp down")
	})
	working := NotifierFunc(func(ctx context.Context, alert *models.DetectionAlert) error {
		calls = append(calls, "telegram")
		return nil
	})

	multi := NewMultiNotifier(zap.NewNop(), NamedNotifier{Name: "email", Notifier: failing})
	multi.Add("telegram", working)
	require.Equal(t, 2, multi.Len())

	err := multi.Notify(context.Background(), &models.DetectionAlert{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "email: smtp down")
	assert.Equal(t, []string{"email", "telegram"}, calls)
}

func TestMultiNotifier_Empty(t *testing.T) {
	multi := NewMultiNotifier(zap.NewNop())

	assert.NoError(t, multi.Notify(context.Background(), &models.DetectionAlert{}))
	assert.Equal(t, 0, multi.Len())
}
