package stress

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"FinRisk/internal/domain/models"
)

var validate = validator.New()

// Validate checks required fields and that every shock stays above -100%.
func Validate(s models.StressScenario) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("scenario %q: %v: %w", s.ID, err, models.ErrInvalidScenario)
	}
	if s.Window != nil && !s.Window.Start.Before(s.Window.End) {
		return fmt.Errorf("scenario %q: window start not before end: %w", s.ID, models.ErrInvalidScenario)
	}
	return nil
}

// MemoryStore is a ScenarioStore held in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	scenarios map[string]models.StressScenario
}

func NewMemoryStore(seed ...models.StressScenario) (*MemoryStore, error) {
	s := &MemoryStore{scenarios: make(map[string]models.StressScenario)}
	for _, sc := range seed {
		if err := s.Save(context.Background(), sc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemoryStore) Save(_ context.Context, sc models.StressScenario) error {
	if err := Validate(sc); err != nil {
		return err
	}
	if sc.Source == "" {
		sc.Source = models.ScenarioManual
	}
	s.mu.Lock()
	s.scenarios[sc.ID] = cloneScenario(sc)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (models.StressScenario, error) {
	s.mu.RLock()
	sc, ok := s.scenarios[id]
	s.mu.RUnlock()
	if !ok {
		return models.StressScenario{}, fmt.Errorf("scenario %q: %w", id, models.ErrScenarioNotFound)
	}
	return cloneScenario(sc), nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.StressScenario, error) {
	s.mu.RLock()
	out := make([]models.StressScenario, 0, len(s.scenarios))
	for _, sc := range s.scenarios {
		out = append(out, cloneScenario(sc))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenarios[id]; !ok {
		return fmt.Errorf("scenario %q: %w", id, models.ErrScenarioNotFound)
	}
	delete(s.scenarios, id)
	return nil
}

// cloneScenario copies the shock map and window so callers cannot mutate stored state.
func cloneScenario(sc models.StressScenario) models.StressScenario {
	shocks := make(map[string]float64, len(sc.Shocks))
	for k, v := range sc.Shocks {
		shocks[k] = v
	}
	sc.Shocks = shocks
	if sc.Window != nil {
		w := *sc.Window
		sc.Window = &w
	}
	return sc
}
