package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
)

// RedisSender implements the Sender interface by storing messages in Redis.
// Used in development and tests: the Service API exposes the captured codes
// so automated flows can read them back.
type RedisSender struct {
	client *redis.Client
	cfg    *config.Config
}

// NewRedisSender creates a new RedisSender.
func NewRedisSender(client *redis.Client, cfg *config.Config) Sender {
	return &RedisSender{
		client: client,
		cfg:    cfg,
	}
}

// Send stores a representation of the SMS in Redis instead of dispatching it.
func (s *RedisSender) Send(ctx context.Context, phone string, message string) error {
	smsData := map[string]interface{}{
		"to":      phone,
		"from":    s.cfg.SmsFromName,
		"message": message,
		"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
	}

	jsonData, err := json.Marshal(smsData)
	if err != nil {
		return fmt.Errorf("failed to marshal SMS data: %w", err)
	}

	key := fmt.Sprintf("mocksms:%s", phone)
	ttl := 5 * time.Minute

	if err := s.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store SMS in Redis key '%s': %w", key, err)
	}

	log.Printf("Mock SMS stored in Redis key '%s' (TTL: %v)", key, ttl)
	return nil
}
