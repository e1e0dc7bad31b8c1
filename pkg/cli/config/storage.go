package config

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/howler-bot/howler/pkg/domain/interfaces"
	"github.com/howler-bot/howler/pkg/repository"
	"github.com/howler-bot/howler/pkg/utils/logging"
)

// Storage selects the alert store backend. Firestore wins when a project ID
// is set, then SQLite when a path is set, then the in-memory store.
type Storage struct {
	firestoreProjectID  string
	firestoreDatabaseID string
	sqlitePath          string
}

func (x *Storage) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "firestore-project-id",
			Usage:       "Firestore project ID",
			Category:    "Storage",
			Sources:     cli.EnvVars("HOWLER_FIRESTORE_PROJECT_ID"),
			Destination: &x.firestoreProjectID,
		},
		&cli.StringFlag{
			Name:        "firestore-database-id",
			Usage:       "Firestore database ID",
			Category:    "Storage",
			Sources:     cli.EnvVars("HOWLER_FIRESTORE_DATABASE_ID"),
			Value:       "(default)",
			Destination: &x.firestoreDatabaseID,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "SQLite database path for local persistence",
			Category:    "Storage",
			Sources:     cli.EnvVars("HOWLER_SQLITE_PATH"),
			Destination: &x.sqlitePath,
		},
	}
}

func (x Storage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("firestore_project_id", x.firestoreProjectID),
		slog.String("firestore_database_id", x.firestoreDatabaseID),
		slog.String("sqlite_path", x.sqlitePath),
	)
}

func (x *Storage) Configure(ctx context.Context) (interfaces.Repository, error) {
	switch {
	case x.firestoreProjectID != "":
		return repository.NewFirestore(ctx, x.firestoreProjectID, x.firestoreDatabaseID)

	case x.sqlitePath != "":
		return repository.NewSQLite(ctx, x.sqlitePath)

	default:
		logging.From(ctx).Warn("no persistent storage configured, alerts are lost on restart")
		return repository.NewMemory(), nil
	}
}
