//go:build cgo_sqlite

// CGO reference driver using mattn/go-sqlite3.
//
// Build with: go build -tags cgo_sqlite
// Requires: CGO_ENABLED=1
package sqlite

import (
	sqliteexternal "github.com/FocuswithJustin/sqlcompact/contrib/sqlite-external"
)

const (
	referenceDriver = sqliteexternal.DriverName
	driverType      = sqliteexternal.DriverType
	driverPackage   = sqliteexternal.DriverPackage + " (via contrib/sqlite-external)"
)
