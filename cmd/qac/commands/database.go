package commands

import (
	"database/sql"

	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/db"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/logger"
)

// openDatabase opens and migrates the qac database. If dbPath is empty,
// the path is resolved through the config cascade (DB_PATH env overrides
// the config file). Uses logger.Logger for db operations.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if path == "" {
			dbPath = "qac.db"
		} else {
			dbPath = path
		}
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	return database, nil
}

// resolvedDatabasePath reports the path openDatabase("") would use, for
// banners and status output.
func resolvedDatabasePath() string {
	path, err := config.GetDatabasePath()
	if err != nil || path == "" {
		return "qac.db"
	}
	return path
}
