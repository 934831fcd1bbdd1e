package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avdeenko/simflow/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// CacheService keeps short-lived provider data (balance, price tables) and
// webhook-delivered SMS codes in Redis. Every method tolerates a nil receiver
// so the flow runs unchanged without Redis configured.
type CacheService struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewCacheService(client *redis.Client, logger *logrus.Logger) *CacheService {
	return &CacheService{
		client: client,
		logger: logger,
	}
}

func (s *CacheService) SetBalance(ctx context.Context, balance float64, ttl time.Duration) {
	if s == nil {
		return
	}
	if err := s.client.Set(ctx, "provider:balance", fmt.Sprintf("%.2f", balance), ttl).Err(); err != nil {
		s.logger.Warnf("Failed to cache balance: %v", err)
	}
}

func (s *CacheService) GetBalance(ctx context.Context) (float64, bool) {
	if s == nil {
		return 0, false
	}
	value, err := s.client.Get(ctx, "provider:balance").Result()
	if err != nil {
		return 0, false
	}
	var balance float64
	if _, err := fmt.Sscanf(value, "%f", &balance); err != nil {
		return 0, false
	}
	return balance, true
}

func (s *CacheService) SetPrices(ctx context.Context, service string, rows []models.CountryPrice, ttl time.Duration) {
	if s == nil {
		return
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return
	}
	key := fmt.Sprintf("provider:prices:%s", service)
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.Warnf("Failed to cache prices: %v", err)
	}
}

func (s *CacheService) GetPrices(ctx context.Context, service string) ([]models.CountryPrice, bool) {
	if s == nil {
		return nil, false
	}
	key := fmt.Sprintf("provider:prices:%s", service)
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}
	var rows []models.CountryPrice
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		return nil, false
	}
	return rows, true
}

// StoreWebhookCode records a code pushed by the provider webhook so polling
// loops can pick it up without another HTTP round trip.
func (s *CacheService) StoreWebhookCode(ctx context.Context, activationID, code string, ttl time.Duration) error {
	if s == nil {
		return nil
	}
	key := fmt.Sprintf("webhook:code:%s", activationID)
	return s.client.Set(ctx, key, code, ttl).Err()
}

// WebhookCode implements CodeSource.
func (s *CacheService) WebhookCode(ctx context.Context, activationID string) (string, bool) {
	if s == nil {
		return "", false
	}
	key := fmt.Sprintf("webhook:code:%s", activationID)
	code, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		s.logger.Warnf("Webhook code lookup failed: %v", err)
		return "", false
	}
	return code, code != ""
}
