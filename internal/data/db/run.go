// Package db persists pipeline runs so that consecutive executions against
// the same target can be compared after the fact.
package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scangate/scangate/internal/data/model"
	"github.com/scangate/scangate/internal/log"
	"github.com/scangate/scangate/pkg/types"
)

// RunManager defines the interface for recording runs in the database.
type RunManager interface {
	// InsertRun inserts a run with its scan outcomes and finding groups.
	InsertRun(ctx context.Context, target string, v *types.Verdict) error
	// GetRun retrieves a run with its scan outcomes and finding groups.
	GetRun(ctx context.Context, id uint) (*model.Run, error)
}

// GormRunManager implements the RunManager interface using a GORM DB connection.
type GormRunManager struct {
	db *gorm.DB
}

// NewGormRunManager creates a new GormRunManager and migrates the schema.
func NewGormRunManager(db *gorm.DB) (*GormRunManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.AutoMigrate(&model.Run{}, &model.ScanRecord{}, &model.FindingRecord{}); err != nil {
		return nil, fmt.Errorf("error migrating schema: %w", err)
	}
	return &GormRunManager{db: db}, nil
}

// InsertRun inserts a run with its scan outcomes and finding groups.
func (manager *GormRunManager) InsertRun(ctx context.Context, target string, v *types.Verdict) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}
	if v == nil {
		return fmt.Errorf("verdict cannot be nil")
	}

	logger := log.NewLogger(ctx)
	logger.Debug("InsertRun", zap.String("target", target), zap.Bool("passed", v.Passed))

	run := model.RunFromVerdict(target, v)
	if err := manager.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("error creating run: %w", err)
	}
	return nil
}

// GetRun retrieves a run with its scan outcomes and finding groups.
func (manager *GormRunManager) GetRun(ctx context.Context, id uint) (*model.Run, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}

	var run model.Run
	err := manager.db.WithContext(ctx).
		Preload("Scans").
		Preload("Findings").
		First(&run, id).Error
	if err != nil {
		return nil, fmt.Errorf("error retrieving run: %w", err)
	}
	return &run, nil
}
