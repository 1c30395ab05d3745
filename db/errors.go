package db

import (
	"strings"

	"github.com/qacompanion/qac/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed
// database. Seen during graceful shutdown when the connection is closed
// before workers and watchers have drained.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is
// closed. Handles both wrapped ErrDatabaseClosed errors from this package and
// raw driver errors, which we cannot wrap at the source and match by message.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "database is closed") ||
		strings.Contains(errMsg, "sql: database is closed")
}
