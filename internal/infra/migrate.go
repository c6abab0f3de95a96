package infra

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the embedded schema migrations to databaseURL. It opens a
// short-lived database/sql handle because goose works on *sql.DB.
func Migrate(ctx context.Context, databaseURL string, logger zerolog.Logger) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("migrate: open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("migrate: ping database: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(gooseLogger{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			logger.Info().Msg("migrate: schema up to date")
			return nil
		}
		return fmt.Errorf("migrate: apply: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("migrate: read version: %w", err)
	}
	logger.Info().Int64("version", version).Msg("migrate: schema applied")
	return nil
}

// gooseLogger routes goose output through zerolog.
type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error().Msgf("goose: "+format, v...)
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf("goose: "+format, v...)
}
