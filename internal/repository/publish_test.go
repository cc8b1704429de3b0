package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinRisk/internal/domain/models"
	"FinRisk/internal/service/cache"
	pkgkafka "FinRisk/pkg/kafka"
)

type recordingWriter struct{ msgs []kafka.Message }

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaAlertPublisher_KeysByAccount(t *testing.T) {
	w := &recordingWriter{}
	pub := NewKafkaAlertPublisher(pkgkafka.NewProducerWithWriter(w, "gzip"), "")

	alert := models.RiskAlert{ID: "a-1", AccountID: "acct-7", RuleID: "conc", Severity: models.SeverityWarning, Value: 0.6, Threshold: 0.5}
	require.NoError(t, pub.PublishAlert(context.Background(), alert))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "risk.alerts", w.msgs[0].Topic)
	assert.Equal(t, "acct-7", string(w.msgs[0].Key))

	var got models.RiskAlert
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "conc", got.RuleID)
}

func TestCacheSnapshotStore_SaveLoad(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	c := cache.NewTTLCache(cache.WithClock(func() time.Time { return clock }))
	s := NewCacheSnapshotStore(c, time.Minute)
	ctx := context.Background()

	_, ok, err := s.LoadSnapshot(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, ok)

	m := models.RiskMetrics{AccountID: "acct-1", VaR95: 1200, ComputedAt: now}
	m.MarkUnavailable(models.MetricBeta, "no benchmark")
	require.NoError(t, s.SaveSnapshot(ctx, m))

	got, ok, err := s.LoadSnapshot(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1200, got.VaR95, 1e-9)
	assert.Equal(t, "no benchmark", got.Unavailable[models.MetricBeta])

	clock = now.Add(2 * time.Minute)
	_, ok, err = s.LoadSnapshot(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
