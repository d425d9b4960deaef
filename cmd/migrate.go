package cmd

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loomwire/loomwire/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	Long: `Postgres schemas are owned by the goose SQL files in migrations/
(row-level-security policies and partial unique indexes live there).
SQLite falls back to the ORM's auto-migration for single-binary dev runs.`,
	RunE: runMigrate,
}

var migrationsDir string

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "directory holding goose SQL migrations")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	if cfg.Database.Driver != "postgres" {
		db, err := storage.Open(cfg)
		if err != nil {
			return err
		}
		if err := storage.AutoMigrate(db.Raw()); err != nil {
			return fmt.Errorf("sqlite auto-migration: %w", err)
		}
		logrus.Info("[MIGRATE] SQLite schema is up to date")
		return nil
	}

	sqlDB, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("opening postgres for migration: %w", err)
	}
	defer sqlDB.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	logrus.Info("[MIGRATE] Postgres schema is up to date")
	return nil
}
