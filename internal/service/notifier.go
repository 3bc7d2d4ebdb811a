package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

// Notification is one "update available/required" notice for an installation.
type Notification struct {
	DistributionID  string                  `json:"distributionId"`
	UpdatePackageID string                  `json:"updatePackageId"`
	UserID          string                  `json:"userId"`
	Kind            models.NotificationKind `json:"kind"`
	SentAt          time.Time               `json:"sentAt"`
}

// UpdateNotifier delivers notices to installations.
type UpdateNotifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notices to the service log. Used in development and when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements UpdateNotifier.
func (n *LogNotifier) Notify(_ context.Context, notice Notification) error {
	n.logger.Info("update notification",
		zap.String("distribution_id", notice.DistributionID),
		zap.String("update_package_id", notice.UpdatePackageID),
		zap.String("user_id", notice.UserID),
		zap.String("kind", string(notice.Kind)))
	return nil
}

// RedisNotifier publishes notices as JSON on a Redis pub/sub channel.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisNotifier constructs a RedisNotifier.
func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	if channel == "" {
		channel = "release:notifications"
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Notify implements UpdateNotifier.
func (n *RedisNotifier) Notify(ctx context.Context, notice Notification) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
