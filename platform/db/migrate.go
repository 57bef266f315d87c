package db

import (
	"context"

	"wacrm_backend/migrations"
	"wacrm_backend/platform/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies all pending embedded goose migrations.
func RunMigrations(ctx context.Context, cfg config.MigrationConfig, pool *pgxpool.Pool) error {
	if !cfg.GetMigrationsEnabled() {
		return nil
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, sqlDB, ".")
}
