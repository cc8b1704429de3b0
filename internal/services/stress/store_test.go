package stress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinRisk/internal/domain/models"
)

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(models.StressScenario{ID: "crash", Name: "Crash", Shocks: map[string]float64{"SPY": -0.3}})
	require.NoError(t, err)

	sc, err := store.Get(ctx, "crash")
	require.NoError(t, err)
	assert.Equal(t, models.ScenarioManual, sc.Source)

	sc.Shocks["SPY"] = -0.9
	again, _ := store.Get(ctx, "crash")
	assert.Equal(t, -0.3, again.Shocks["SPY"])

	require.NoError(t, store.Save(ctx, models.StressScenario{ID: "alpha", Name: "Alpha"}))
	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)

	require.NoError(t, store.Delete(ctx, "alpha"))
	_, err = store.Get(ctx, "alpha")
	assert.ErrorIs(t, err, models.ErrScenarioNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "alpha"), models.ErrScenarioNotFound)
}

func TestValidateRejectsBadScenarios(t *testing.T) {
	tests := []struct {
		name string
		sc   models.StressScenario
	}{
		{"missing id", models.StressScenario{Name: "x"}},
		{"missing name", models.StressScenario{ID: "x"}},
		{"shock below -100%", models.StressScenario{ID: "x", Name: "x", Shocks: map[string]float64{"AAPL": -1.5}}},
		{"empty symbol", models.StressScenario{ID: "x", Name: "x", Shocks: map[string]float64{"": -0.1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Validate(tt.sc), models.ErrInvalidScenario)
		})
	}
}
