package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

const activeScheduleTTL = 10 * time.Minute

// CacheService keeps the active schedule per tenant in Redis. Lookups fall
// through to the database on any cache failure; the cache is an accelerator,
// never a source of truth.
type CacheService struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheService constructs the cache around a connected Redis client.
// A nil client disables caching entirely.
func NewCacheService(client *redis.Client, logger *zap.Logger) *CacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{client: client, logger: logger}
}

func activeKey(tenantID string) string {
	return fmt.Sprintf("timetable:active:%s", tenantID)
}

// GetActive returns the cached active schedule, nil on miss or failure.
func (s *CacheService) GetActive(ctx context.Context, tenantID string) *models.Schedule {
	if s == nil || s.client == nil {
		return nil
	}
	raw, err := s.client.Get(ctx, activeKey(tenantID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		return nil
	}
	var schedule models.Schedule
	if err := json.Unmarshal(raw, &schedule); err != nil {
		s.logger.Warn("cache entry corrupt, dropping", zap.String("tenant_id", tenantID), zap.Error(err))
		_ = s.client.Del(ctx, activeKey(tenantID)).Err()
		return nil
	}
	return &schedule
}

// SetActive stores the active schedule with a TTL.
func (s *CacheService) SetActive(ctx context.Context, schedule *models.Schedule) {
	if s == nil || s.client == nil || schedule == nil {
		return
	}
	raw, err := json.Marshal(schedule)
	if err != nil {
		s.logger.Warn("cache encode failed", zap.String("schedule_id", schedule.ID), zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, activeKey(schedule.TenantID), raw, activeScheduleTTL).Err(); err != nil {
		s.logger.Warn("cache write failed", zap.String("tenant_id", schedule.TenantID), zap.Error(err))
	}
}

// InvalidateActive drops the cached active schedule for a tenant.
func (s *CacheService) InvalidateActive(ctx context.Context, tenantID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Del(ctx, activeKey(tenantID)).Err()
}
