// Package sqlite opens databases through the compacting engine and exposes
// the operations built on it: online VACUUM with a new page reserve,
// compressed snapshots and a cross-check against a reference SQLite driver.
//
// Build modes pick the reference driver:
//   - Default (CGO_ENABLED=0): pure Go modernc.org/sqlite
//   - CGO mode (CGO_ENABLED=1 -tags cgo_sqlite): mattn/go-sqlite3 via contrib/sqlite-external
//
// Databases are always opened with the engine's own driver, registered as
// "sqlcompact". Use Open instead of sql.Open to get it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/driver"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/engine"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/vacuum"
)

// DriverName returns the database/sql name of the engine driver.
func DriverName() string {
	return driver.Name
}

// ReferenceDriverName returns the database/sql name of the reference SQLite
// driver compiled into this build.
func ReferenceDriverName() string {
	return referenceDriver
}

// DriverType returns "cgo" for mattn/go-sqlite3, "purego" for modernc.org/sqlite.
func DriverType() string {
	return driverType
}

// IsCGO reports whether the reference driver is the CGO one.
func IsCGO() bool {
	return driverType == "cgo"
}

// Open opens a database with the engine driver. dsn is a file path,
// optionally followed by ?_key=...&_reserve=N&_codec=...&mode=ro.
func Open(dsn string) (*sql.DB, error) {
	if _, err := driver.ParseDSN(dsn); err != nil {
		return nil, err
	}
	return sql.Open(driver.Name, dsn)
}

// OpenReadOnly opens a database in read-only mode.
func OpenReadOnly(path string) (*sql.DB, error) {
	return Open(path + "?mode=ro")
}

// Options configures OpenWith. Zero values select the defaults.
type Options struct {
	// Key is the passphrase of an encrypted database.
	Key string
	// Codec is none, checksum or cipher. A key alone selects cipher.
	Codec string
	// Reserve and PageSize apply when the file is created.
	Reserve     int
	PageSize    int
	CacheSize   int
	BusyTimeout time.Duration
	ReadOnly    bool
}

// OpenWith opens the database at path with the engine driver.
func OpenWith(path string, opts Options) (*sql.DB, error) {
	cfg := &driver.Config{
		Filename: path,
		Key:      opts.Key,
		Codec:    opts.Codec,
		Options: engine.Options{
			Reserve:     opts.Reserve,
			PageSize:    opts.PageSize,
			CacheSize:   opts.CacheSize,
			BusyTimeout: opts.BusyTimeout,
			ReadOnly:    opts.ReadOnly,
		},
	}
	if path == "" {
		return nil, errs.NewValidation("path", "a database file is required")
	}
	if _, err := cfg.EngineOptions(); err != nil {
		return nil, err
	}
	return sql.OpenDB(driver.NewConnector(cfg)), nil
}

// OpenKeyed opens a database encrypted with key.
func OpenKeyed(path, key string) (*sql.DB, error) {
	return OpenWith(path, Options{Key: key})
}

// MustOpen opens a database and panics on error.
// This is intended for use in tests or initialization code where
// database access failure is unrecoverable.
func MustOpen(dsn string) *sql.DB {
	db, err := Open(dsn)
	if err != nil {
		panic(fmt.Sprintf("sqlite: failed to open %s: %v", dsn, err))
	}
	return db
}

// Info describes the drivers of this build.
type Info struct {
	DriverName          string `json:"driver_name"`
	ReferenceDriverName string `json:"reference_driver_name"`
	DriverType          string `json:"driver_type"`
	IsCGO               bool   `json:"is_cgo"`
	Package             string `json:"package"`
}

// GetInfo returns the driver configuration of this build.
func GetInfo() Info {
	return Info{
		DriverName:          driver.Name,
		ReferenceDriverName: referenceDriver,
		DriverType:          driverType,
		IsCGO:               IsCGO(),
		Package:             driverPackage,
	}
}

// VacuumResult is the outcome of a compaction.
type VacuumResult = vacuum.Result

// Vacuum rebuilds the main database of db with reserve bytes kept free at
// the end of every page. db must have been opened with Open.
func Vacuum(ctx context.Context, db *sql.DB, reserve int) (*VacuumResult, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var res *VacuumResult
	err = conn.Raw(func(dc any) error {
		c, ok := dc.(*driver.Conn)
		if !ok {
			return errs.NewUnsupported(fmt.Sprintf("vacuum on %T", dc), "open the database with sqlite.Open")
		}
		var err error
		res, err = c.Vacuum(ctx, reserve)
		return err
	})
	return res, err
}

// ResultSet holds the outcome of the last statement of a script.
type ResultSet struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

// Script runs the statements in script one after another on a single
// connection and returns the result of the last.
func Script(ctx context.Context, db *sql.DB, script string) (*ResultSet, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var rs *ResultSet
	err = conn.Raw(func(dc any) error {
		c, ok := dc.(*driver.Conn)
		if !ok {
			return errs.NewUnsupported(fmt.Sprintf("script on %T", dc), "open the database with sqlite.Open")
		}
		res, err := c.Script(ctx, script)
		if err != nil {
			return err
		}
		rs = &ResultSet{Columns: res.Columns, RowsAffected: res.RowsAffected}
		for _, row := range res.Rows {
			out := make([]any, len(row))
			for i, v := range row {
				out[i] = v.Go()
			}
			rs.Rows = append(rs.Rows, out)
		}
		return nil
	})
	return rs, err
}

// Stat is a summary of a database's storage settings.
type Stat struct {
	PageSize      int64  `json:"page_size"`
	Reserve       int64  `json:"reserve"`
	PageCount     int64  `json:"page_count"`
	FreelistCount int64  `json:"freelist_count"`
	SchemaVersion int64  `json:"schema_version"`
	UserVersion   int64  `json:"user_version"`
	AutoVacuum    int64  `json:"auto_vacuum"`
	Encoding      string `json:"encoding"`
}

// Inspect reads the storage settings of db's main database.
func Inspect(ctx context.Context, db *sql.DB) (*Stat, error) {
	st := &Stat{}
	for _, p := range []struct {
		name string
		dst  any
	}{
		{"page_size", &st.PageSize},
		{"reserve_size", &st.Reserve},
		{"page_count", &st.PageCount},
		{"freelist_count", &st.FreelistCount},
		{"schema_version", &st.SchemaVersion},
		{"user_version", &st.UserVersion},
		{"auto_vacuum", &st.AutoVacuum},
		{"encoding", &st.Encoding},
	} {
		if err := db.QueryRowContext(ctx, "PRAGMA "+p.name).Scan(p.dst); err != nil {
			return nil, fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	return st, nil
}

// IntegrityCheck runs PRAGMA integrity_check on db and returns the problems
// found; none means the database is sound.
func IntegrityCheck(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, err
		}
		if msg != "ok" {
			problems = append(problems, msg)
		}
	}
	return problems, rows.Err()
}

// OpenReference opens path read-only with the reference driver. Keyed
// databases cannot be read this way.
func OpenReference(path string) (*sql.DB, error) {
	return sql.Open(referenceDriver, "file:"+path+"?mode=ro")
}

// VerifyReference runs the reference driver's integrity check on path.
func VerifyReference(ctx context.Context, path string) ([]string, error) {
	db, err := OpenReference(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return IntegrityCheck(ctx, db)
}
