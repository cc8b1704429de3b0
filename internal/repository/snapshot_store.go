package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FinRisk/internal/domain/models"
	"FinRisk/internal/service/cache"
)

// CacheSnapshotStore publishes RiskMetrics as JSON into a bytes cache (Redis in
// production) under "metrics:<account>".
type CacheSnapshotStore struct {
	cache cache.BytesCache
	ttl   time.Duration
}

func NewCacheSnapshotStore(c cache.BytesCache, ttl time.Duration) *CacheSnapshotStore {
	return &CacheSnapshotStore{cache: c, ttl: ttl}
}

func snapshotKey(accountID string) string { return "metrics:" + accountID }

func (s *CacheSnapshotStore) SaveSnapshot(ctx context.Context, m models.RiskMetrics) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics %s: %w", m.AccountID, err)
	}
	if err := s.cache.SetBytes(ctx, snapshotKey(m.AccountID), b, s.ttl); err != nil {
		return fmt.Errorf("save metrics %s: %w", m.AccountID, err)
	}
	return nil
}

func (s *CacheSnapshotStore) LoadSnapshot(ctx context.Context, accountID string) (models.RiskMetrics, bool, error) {
	b, ok, err := s.cache.GetBytes(ctx, snapshotKey(accountID))
	if err != nil {
		return models.RiskMetrics{}, false, fmt.Errorf("load metrics %s: %w", accountID, err)
	}
	if !ok {
		return models.RiskMetrics{}, false, nil
	}
	var m models.RiskMetrics
	if err := json.Unmarshal(b, &m); err != nil {
		return models.RiskMetrics{}, false, fmt.Errorf("decode metrics %s: %w", accountID, err)
	}
	return m, true, nil
}
