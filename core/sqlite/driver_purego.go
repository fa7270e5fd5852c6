//go:build !cgo_sqlite

package sqlite

import (
	_ "modernc.org/sqlite" // reference driver
)

const (
	referenceDriver = "sqlite"
	driverType      = "purego"
	driverPackage   = "modernc.org/sqlite"
)
