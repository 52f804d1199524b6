// internal/services/telemetry_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/drivelend/onboarding-backend/internal/config"
	"github.com/drivelend/onboarding-backend/internal/wizard"
)

// RedisTelemetry pushes wizard lifecycle events onto a capped Redis list for
// the analytics consumer to drain. It is fire-and-forget: a dropped event is
// logged at debug and never fails the caller.
type RedisTelemetry struct {
	client *redis.Client
	key    string
	cap    int64
}

func NewRedisTelemetry(cfg config.RedisConfig) *RedisTelemetry {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisTelemetry{
		client: client,
		key:    cfg.TelemetryKey,
		cap:    int64(cfg.TelemetryCap),
	}
}

func (t *RedisTelemetry) Track(ctx context.Context, event wizard.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode telemetry event: %w", err)
	}

	pipe := t.client.Pipeline()
	pipe.LPush(ctx, t.key, payload)
	if t.cap > 0 {
		pipe.LTrim(ctx, t.key, 0, t.cap-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push telemetry event: %w", err)
	}
	return nil
}

func (t *RedisTelemetry) Close() error {
	return t.client.Close()
}

// LogTelemetry is the fallback sink when Redis is not configured; events go
// to the structured log instead of being lost.
type LogTelemetry struct{}

func (LogTelemetry) Track(_ context.Context, event wizard.Event) error {
	logrus.WithFields(logrus.Fields{
		"event":          event.Name,
		"session_id":     event.SessionID,
		"application_id": event.ApplicationID,
		"step":           event.Step,
	}).Info("telemetry event")
	return nil
}
