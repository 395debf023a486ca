package db

import (
	"fmt"

	"github.com/quillmind/metering/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the metering schema. AutoMigrate handles new
// tables and added columns; backfillColumns covers columns AutoMigrate will
// not add to pre-existing tables with legacy shapes.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errMigrate := conn.AutoMigrate(
		&models.Project{},
		&models.UsageEvent{},
		&models.UsageTotals{},
		&models.UsageDailyBucket{},
		&models.UsageModelBucket{},
		&models.UsageProviderBucket{},
		&models.UsagePeriodBucket{},
		&models.BudgetLimit{},
		&models.PricingConfig{},
		&models.PricingTier{},
		&models.UsageAlert{},
		&models.AuditLog{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}

	return backfillColumns(conn)
}

// backfillColumns adds columns introduced after the initial schema to
// deployments whose tables predate them.
func backfillColumns(conn *gorm.DB) error {
	type backfill struct {
		model  any
		column string
	}
	targets := []backfill{
		{&models.UsageEvent{}, "latency_ms"},
		{&models.UsageEvent{}, "context_tag"},
		{&models.BudgetLimit{}, "fallback_to_free_tier"},
		{&models.BudgetLimit{}, "fallback_threshold_pct"},
		{&models.BudgetLimit{}, "max_requests_per_day"},
		{&models.UsageModelBucket{}, "avg_latency_ms"},
		{&models.UsageProviderBucket{}, "avg_latency_ms"},
	}
	for _, target := range targets {
		if conn.Migrator().HasColumn(target.model, target.column) {
			continue
		}
		if errAdd := conn.Migrator().AddColumn(target.model, target.column); errAdd != nil {
			return fmt.Errorf("db: backfill column %s: %w", target.column, errAdd)
		}
	}
	return nil
}
