package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite"
	"github.com/FocuswithJustin/sqlcompact/internal/logging"
)

// DBFlags selects and unlocks a database.
type DBFlags struct {
	Path  string `arg:"" help:"Database file" type:"path"`
	Key   string `help:"Encryption passphrase" env:"SQLCOMPACT_KEY"`
	Codec string `help:"Codec for a new database (none, checksum, cipher)"`
}

// open opens the database on a single connection, so connection state such
// as a pending page size survives between statements.
func (f DBFlags) open(cfg *Config, readOnly bool) (*sql.DB, error) {
	busy, err := cfg.BusyTimeoutDuration()
	if err != nil {
		return nil, err
	}
	codec := f.Codec
	if codec == "" {
		codec = cfg.Codec
	}
	db, err := sqlite.OpenWith(f.Path, sqlite.Options{
		Key:         f.Key,
		Codec:       codec,
		BusyTimeout: busy,
		ReadOnly:    readOnly,
	})
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (f DBFlags) mustExist() error {
	if _, err := os.Stat(f.Path); err != nil {
		return fmt.Errorf("database %s: %w", f.Path, err)
	}
	return nil
}

// VacuumCmd rebuilds a database.
type VacuumCmd struct {
	DB          DBFlags `embed:""`
	Reserve     int     `help:"Page reserve to rebuild with; -1 uses the config, then the current reserve" default:"-1"`
	PageSize    int     `name:"page-size" help:"New page size; ignored for encrypted databases"`
	Snapshot    bool    `help:"Write a snapshot before rebuilding"`
	SnapshotDir string  `name:"snapshot-dir" help:"Snapshot directory" type:"path"`
}

func (c *VacuumCmd) Run(cfg *Config) error {
	ctx := context.Background()
	if err := c.DB.mustExist(); err != nil {
		return err
	}
	if c.Snapshot {
		dir := c.SnapshotDir
		if dir == "" {
			dir = cfg.SnapshotDir
		}
		info, err := sqlite.Snapshot(c.DB.Path, dir)
		if err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}
		fmt.Fprintf(stdout, "snapshot: %s\n", info.Path)
	}

	db, err := c.DB.open(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	reserve := c.Reserve
	if reserve < 0 {
		reserve = cfg.Reserve
	}
	if reserve < 0 {
		st, err := sqlite.Inspect(ctx, db)
		if err != nil {
			return err
		}
		reserve = int(st.Reserve)
	}
	if c.PageSize > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA page_size = %d", c.PageSize)); err != nil {
			return err
		}
	}

	res, err := sqlite.Vacuum(ctx, db, reserve)
	if err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	logging.Debug("vacuum finished", "path", c.DB.Path, "pages", res.Pages)
	fmt.Fprintf(stdout, "%s: page_size=%d reserve=%d pages=%d (%s)\n",
		c.DB.Path, res.PageSize, res.Reserve, res.Pages, res.Duration.Round(time.Millisecond))
	return nil
}

// ExecCmd runs SQL.
type ExecCmd struct {
	DB     DBFlags `embed:""`
	SQL    string  `arg:"" name:"sql" help:"Statements to run; the rows of the last are printed"`
	Format string  `help:"Output format (table, json)" enum:"table,json" default:"table"`
}

func (c *ExecCmd) Run(cfg *Config) error {
	db, err := c.DB.open(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	rs, err := sqlite.Script(context.Background(), db, c.SQL)
	if err != nil {
		return err
	}
	if c.Format == "json" {
		return writeJSON(stdout, rowsAsMaps(rs))
	}
	printResult(stdout, rs)
	return nil
}

// InfoCmd prints storage settings.
type InfoCmd struct {
	DB     DBFlags `embed:""`
	Format string  `help:"Output format (json, yaml)" enum:"json,yaml" default:"json"`
}

// infoReport is what info prints.
type infoReport struct {
	Path   string       `json:"path" yaml:"path"`
	Digest string       `json:"blake3" yaml:"blake3"`
	Stat   *sqlite.Stat `json:"stat" yaml:"stat"`
	Driver sqlite.Info  `json:"driver" yaml:"driver"`
}

func (c *InfoCmd) Run(cfg *Config) error {
	if err := c.DB.mustExist(); err != nil {
		return err
	}
	db, err := c.DB.open(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := sqlite.Inspect(context.Background(), db)
	if err != nil {
		return err
	}
	digest, err := sqlite.FileDigest(c.DB.Path)
	if err != nil {
		return err
	}
	report := infoReport{Path: c.DB.Path, Digest: digest, Stat: st, Driver: sqlite.GetInfo()}
	if c.Format == "yaml" {
		out, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	}
	return writeJSON(stdout, report)
}

// VerifyCmd checks a database with the engine and, for unencrypted files,
// with the reference driver.
type VerifyCmd struct {
	DB        DBFlags `embed:""`
	Reference bool    `help:"Also check with the reference SQLite driver" default:"true" negatable:""`
}

func (c *VerifyCmd) Run(cfg *Config) error {
	ctx := context.Background()
	if err := c.DB.mustExist(); err != nil {
		return err
	}
	db, err := c.DB.open(cfg, true)
	if err != nil {
		return err
	}
	problems, err := sqlite.IntegrityCheck(ctx, db)
	db.Close()
	if err != nil {
		return err
	}
	report := func(who string, problems []string) error {
		if len(problems) == 0 {
			fmt.Fprintf(stdout, "%s: ok\n", who)
			return nil
		}
		for _, p := range problems {
			fmt.Fprintf(stdout, "%s: %s\n", who, p)
		}
		return fmt.Errorf("%s found %d problem(s) in %s", who, len(problems), c.DB.Path)
	}
	if err := report("sqlcompact", problems); err != nil {
		return err
	}

	if !c.Reference {
		return nil
	}
	if c.DB.Key != "" {
		fmt.Fprintf(stdout, "%s: skipped (encrypted)\n", sqlite.ReferenceDriverName())
		return nil
	}
	problems, err = sqlite.VerifyReference(ctx, c.DB.Path)
	if err != nil {
		return fmt.Errorf("reference check failed: %w", err)
	}
	return report(sqlite.ReferenceDriverName(), problems)
}

// SnapshotCreateCmd writes a snapshot.
type SnapshotCreateCmd struct {
	Path string `arg:"" help:"Database file" type:"existingfile"`
	Dir  string `help:"Snapshot directory" type:"path"`
}

func (c *SnapshotCreateCmd) Run(cfg *Config) error {
	dir := c.Dir
	if dir == "" {
		dir = cfg.SnapshotDir
	}
	info, err := sqlite.Snapshot(c.Path, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\t%d\t%s\n", info.Path, info.Size, info.Digest)
	return nil
}

// SnapshotRestoreCmd restores a snapshot.
type SnapshotRestoreCmd struct {
	Snapshot string `arg:"" help:"Snapshot file" type:"existingfile"`
	Path     string `arg:"" help:"Database file to replace" type:"path"`
}

func (c *SnapshotRestoreCmd) Run() error {
	digest, err := sqlite.RestoreSnapshot(c.Snapshot, c.Path)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "restored %s (%s)\n", c.Path, digest)
	return nil
}

// ConfigInitCmd writes a config file.
type ConfigInitCmd struct {
	Path  string `arg:"" optional:"" help:"Config file to write" default:"sqlcompact.json" type:"path"`
	Force bool   `help:"Overwrite an existing file"`
}

func (c *ConfigInitCmd) Run() error {
	if _, err := os.Stat(c.Path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", c.Path)
	}
	if err := WriteConfig(c.Path, DefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", c.Path)
	return nil
}

// ConfigShowCmd prints the effective config.
type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(cfg *Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = stdout.Write(out)
	return err
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := sqlite.GetInfo()
	fmt.Fprintf(stdout, "sqlcompact version %s (reference driver %s, %s)\n", version, info.ReferenceDriverName, info.DriverType)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func rowsAsMaps(rs *sqlite.ResultSet) []map[string]any {
	out := make([]map[string]any, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		m := make(map[string]any, len(row))
		for i, v := range row {
			m[rs.Columns[i]] = v
		}
		out = append(out, m)
	}
	return out
}

// printResult writes rows as aligned columns, or the change count of a
// statement without rows.
func printResult(w io.Writer, rs *sqlite.ResultSet) {
	if len(rs.Columns) == 0 {
		if rs.RowsAffected > 0 {
			fmt.Fprintf(w, "%d row(s) changed\n", rs.RowsAffected)
		}
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(rs.Columns, "\t"))
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return "X'" + strings.ToUpper(hex.EncodeToString(v)) + "'"
	case float64:
		return fmt.Sprintf("%g", v)
	}
	return fmt.Sprint(v)
}
