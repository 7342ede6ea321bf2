package storage

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	logx "upwatch/pkg/logx"
)

// openSQLite opens the default cgo-free SQLite store.
func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	return openSQL("sqlite", cfg, log, isModerncConstraint)
}

func isModerncConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	// Extended codes keep the primary code in the low byte.
	return se.Code()&0xff == sqlite3lib.SQLITE_CONSTRAINT
}
