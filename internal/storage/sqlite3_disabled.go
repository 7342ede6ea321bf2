//go:build !cgo_sqlite

package storage

import (
	"errors"

	logx "upwatch/pkg/logx"
)

func openSQLite3(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite3 driver not built: build with -tags cgo_sqlite (requires cgo)")
}
