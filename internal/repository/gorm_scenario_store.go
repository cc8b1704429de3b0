package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"FinRisk/internal/domain/models"
	"FinRisk/internal/services/stress"
)

// scenarioRow is the persisted form of a StressScenario.
type scenarioRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"not null"`
	Description string
	Shocks      map[string]float64 `gorm:"serializer:json;not null"`
	WindowStart *time.Time
	WindowEnd   *time.Time
	Source      string `gorm:"size:16;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (scenarioRow) TableName() string { return "stress_scenarios" }

func toRow(s models.StressScenario) scenarioRow {
	r := scenarioRow{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Shocks:      s.Shocks,
		Source:      string(s.Source),
		CreatedAt:   s.CreatedAt,
	}
	if s.Window != nil {
		start, end := s.Window.Start, s.Window.End
		r.WindowStart, r.WindowEnd = &start, &end
	}
	return r
}

func (r scenarioRow) model() models.StressScenario {
	s := models.StressScenario{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Shocks:      r.Shocks,
		Source:      models.ScenarioSource(r.Source),
		CreatedAt:   r.CreatedAt,
	}
	if s.Shocks == nil {
		s.Shocks = map[string]float64{}
	}
	if r.WindowStart != nil && r.WindowEnd != nil {
		s.Window = &models.TimeRange{Start: r.WindowStart.UTC(), End: r.WindowEnd.UTC()}
	}
	return s
}

// GormScenarioStore persists scenarios through gorm (Postgres in production).
type GormScenarioStore struct {
	db *gorm.DB
}

// OpenPostgres opens a gorm connection with SQL logging silenced.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// NewGormScenarioStore migrates the scenario table and returns the store.
func NewGormScenarioStore(db *gorm.DB) (*GormScenarioStore, error) {
	if err := db.AutoMigrate(&scenarioRow{}); err != nil {
		return nil, fmt.Errorf("migrate stress_scenarios: %w", err)
	}
	return &GormScenarioStore{db: db}, nil
}

// Save inserts or replaces the scenario with the same id.
func (s *GormScenarioStore) Save(ctx context.Context, sc models.StressScenario) error {
	if err := stress.Validate(sc); err != nil {
		return err
	}
	if sc.Source == "" {
		sc.Source = models.ScenarioManual
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	row := toRow(sc)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save scenario %q: %w", sc.ID, err)
	}
	return nil
}

func (s *GormScenarioStore) Get(ctx context.Context, id string) (models.StressScenario, error) {
	var row scenarioRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.StressScenario{}, fmt.Errorf("scenario %q: %w", id, models.ErrScenarioNotFound)
	}
	if err != nil {
		return models.StressScenario{}, fmt.Errorf("get scenario %q: %w", id, err)
	}
	return row.model(), nil
}

// List returns every scenario ordered by id.
func (s *GormScenarioStore) List(ctx context.Context) ([]models.StressScenario, error) {
	var rows []scenarioRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	out := make([]models.StressScenario, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *GormScenarioStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&scenarioRow{})
	if res.Error != nil {
		return fmt.Errorf("delete scenario %q: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("scenario %q: %w", id, models.ErrScenarioNotFound)
	}
	return nil
}
