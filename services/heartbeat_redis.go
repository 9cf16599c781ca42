package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"esp32watch/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisHeartbeatStore shares heartbeat records between several dashboard instances.
// Each device is one JSON value overwritten on every heartbeat.
type RedisHeartbeatStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisHeartbeatStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisHeartbeatStore {
	return &RedisHeartbeatStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (r *RedisHeartbeatStore) key(deviceID string) string {
	return r.prefix + deviceID
}

func (r *RedisHeartbeatStore) Save(ctx context.Context, record models.DeviceRecord) (*models.DeviceRecord, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	raw, err := r.client.GetSet(ctx, r.key(record.Heartbeat.DeviceID), payload).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write heartbeat: %w", err)
	}

	var previous models.DeviceRecord
	if err := json.Unmarshal([]byte(raw), &previous); err != nil {
		r.logger.Warn("Discarding unreadable previous heartbeat",
			zap.String("device_id", record.Heartbeat.DeviceID),
			zap.Error(err))
		return nil, nil
	}
	return &previous, nil
}

func (r *RedisHeartbeatStore) Get(ctx context.Context, deviceID string) (*models.DeviceRecord, error) {
	raw, err := r.client.Get(ctx, r.key(deviceID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read heartbeat: %w", err)
	}

	var record models.DeviceRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal heartbeat: %w", err)
	}
	return &record, nil
}

func (r *RedisHeartbeatStore) List(ctx context.Context) ([]models.DeviceRecord, error) {
	var records []models.DeviceRecord
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		deviceID := strings.TrimPrefix(iter.Val(), r.prefix)
		record, err := r.Get(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		if record != nil {
			records = append(records, *record)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan heartbeats: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Heartbeat.DeviceID < records[j].Heartbeat.DeviceID
	})
	return records, nil
}
