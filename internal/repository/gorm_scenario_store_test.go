package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"FinRisk/internal/domain/models"
)

func newSQLiteScenarioStore(t *testing.T) *GormScenarioStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	s, err := NewGormScenarioStore(db)
	require.NoError(t, err)
	return s
}

func TestGormScenarioStore_SaveGetRoundTrip(t *testing.T) {
	s := newSQLiteScenarioStore(t)
	ctx := context.Background()
	start := time.Date(2020, 2, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 3, 23, 0, 0, 0, 0, time.UTC)

	sc := models.StressScenario{
		ID:     "covid",
		Name:   "Covid crash",
		Shocks: map[string]float64{"AAPL": -0.3, "MSFT": -0.25},
		Window: &models.TimeRange{Start: start, End: end},
		Source: models.ScenarioHistorical,
	}
	require.NoError(t, s.Save(ctx, sc))

	got, err := s.Get(ctx, "covid")
	require.NoError(t, err)
	assert.Equal(t, "Covid crash", got.Name)
	assert.InDelta(t, -0.3, got.Shocks["AAPL"], 1e-12)
	require.NotNil(t, got.Window)
	assert.True(t, got.Window.Start.Equal(start))
	assert.True(t, got.Window.End.Equal(end))
	assert.Equal(t, models.ScenarioHistorical, got.Source)
}

func TestGormScenarioStore_SaveReplaces(t *testing.T) {
	s := newSQLiteScenarioStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, models.StressScenario{ID: "a", Name: "first", Shocks: map[string]float64{"X": -0.1}}))
	require.NoError(t, s.Save(ctx, models.StressScenario{ID: "a", Name: "second", Shocks: map[string]float64{"X": -0.2}}))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "second", list[0].Name)
	assert.Equal(t, models.ScenarioManual, list[0].Source)
}

func TestGormScenarioStore_RejectsInvalid(t *testing.T) {
	s := newSQLiteScenarioStore(t)
	err := s.Save(context.Background(), models.StressScenario{ID: "bad", Name: "bad", Shocks: map[string]float64{"X": -1.5}})
	assert.ErrorIs(t, err, models.ErrInvalidScenario)
}

func TestGormScenarioStore_NotFound(t *testing.T) {
	s := newSQLiteScenarioStore(t)
	ctx := context.Background()
	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrScenarioNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), models.ErrScenarioNotFound)
}

func TestGormScenarioStore_ListOrderedAndDelete(t *testing.T) {
	s := newSQLiteScenarioStore(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Save(ctx, models.StressScenario{ID: id, Name: id, Shocks: map[string]float64{}}))
	}
	require.NoError(t, s.Delete(ctx, "b"))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "c", list[1].ID)
}
