package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// GuardianState is the monitoring flag and channel settings for one device,
// persisted as a single named JSON blob. It is rehydrated on read and
// overwritten whole on every mutation; there is no partial update.
type GuardianState struct {
	IsMonitoring     bool   `json:"isMonitoring"`
	FreeChannelURL   string `json:"freeChannelUrl"`
	TelegramBotToken string `json:"telegramBotToken"`
	TelegramChatID   string `json:"telegramChatId"`
}

// StateService persists guardian state blobs in Redis.
type StateService struct {
	client *Client
	logger *zap.Logger
}

// NewStateService creates a guardian state store.
func NewStateService(client *Client, logger *zap.Logger) *StateService {
	return &StateService{client: client, logger: logger}
}

func (s *StateService) buildKey(deviceID string) string {
	return "guardian:state:" + deviceID
}

// Load rehydrates a device's state. A device with no saved blob gets the
// zero state, not an error.
func (s *StateService) Load(ctx context.Context, deviceID string) (*GuardianState, error) {
	val, err := s.client.rdb.Get(ctx, s.buildKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return &GuardianState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var state GuardianState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		s.logger.Error("failed to unmarshal guardian state",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("invalid state blob: %w", err)
	}

	return &state, nil
}

// Save overwrites a device's state blob. No TTL: channel settings live until
// the user changes them.
func (s *StateService) Save(ctx context.Context, deviceID string, state *GuardianState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := s.client.rdb.Set(ctx, s.buildKey(deviceID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	s.logger.Debug("guardian state saved",
		zap.String("device_id", deviceID),
		zap.Bool("monitoring", state.IsMonitoring),
	)

	return nil
}
