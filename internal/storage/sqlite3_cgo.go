//go:build cgo_sqlite

package storage

import (
	"errors"

	"github.com/mattn/go-sqlite3"

	logx "upwatch/pkg/logx"
)

// openSQLite3 opens the store through mattn/go-sqlite3 (requires cgo).
func openSQLite3(cfg Config, log logx.Logger) (Store, error) {
	return openSQL("sqlite3", cfg, log, isMattnConstraint)
}

func isMattnConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
