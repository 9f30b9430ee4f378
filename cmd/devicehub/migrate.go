package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nerrad567/devicehub/internal/infrastructure/config"
	"github.com/nerrad567/devicehub/internal/infrastructure/database"
	"github.com/nerrad567/devicehub/migrations"
)

// errUsage is returned for a malformed migrate command line.
var errUsage = errors.New("usage: devicehub migrate [status|up|down]")

// runMigrate handles "devicehub migrate [status|up|down]" against the
// configured database, then prints the resulting migration status to out.
// With no action it only prints the status.
func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	action := "status"
	if len(args) > 0 {
		action = args[0]
	}
	if len(args) > 1 {
		return fmt.Errorf("%w: unexpected argument %q", errUsage, args[1])
	}
	switch action {
	case "status", "up", "down":
	default:
		return fmt.Errorf("%w: unknown action %q", errUsage, action)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-only use after the action

	switch action {
	case "up":
		err = db.Migrate(ctx, migrations.FS)
	case "down":
		err = db.MigrateDown(ctx, migrations.FS)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", action, err)
	}

	return printMigrationStatus(ctx, db, out)
}

func printMigrationStatus(ctx context.Context, db *database.DB, out io.Writer) error {
	applied, pending, err := db.GetMigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	for _, m := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	fmt.Fprintf(out, "schema version: %s\n", schemaVersion(applied))
	return nil
}

// schemaVersion returns the newest applied migration version, or "none".
func schemaVersion(applied []database.MigrationRecord) string {
	if len(applied) == 0 {
		return "none"
	}
	return applied[len(applied)-1].Version
}
