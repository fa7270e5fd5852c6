// Package driver registers the engine with database/sql under the name
// "sqlcompact".
package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/engine"
	"github.com/FocuswithJustin/sqlcompact/internal/logging"
)

// Name is the name the driver is registered under.
const Name = "sqlcompact"

// Driver implements database/sql/driver.Driver.
type Driver struct{}

var sqlcompactDriver = &Driver{}

func init() {
	sql.Register(Name, sqlcompactDriver)
}

// Open opens a connection to the database described by dsn.
func (d *Driver) Open(dsn string) (driver.Conn, error) {
	c, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// OpenConnector parses dsn once for every connection of a pool.
func (d *Driver) OpenConnector(dsn string) (driver.Connector, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return &Connector{driver: d, cfg: cfg}, nil
}

// Connector opens connections with a fixed configuration.
type Connector struct {
	driver *Driver
	cfg    *Config
}

// NewConnector returns a connector for cfg, for use with sql.OpenDB.
func NewConnector(cfg *Config) *Connector {
	return &Connector{driver: sqlcompactDriver, cfg: cfg}
}

// Connect opens a new connection.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts, err := c.cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	e, err := engine.OpenWithOptions(c.cfg.Filename, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logging.DebugContext(ctx, "connection opened", "path", c.cfg.Filename, "read_only", opts.ReadOnly, "keyed", opts.Codec != nil)
	return &Conn{engine: e, stmts: make(map[*Stmt]struct{})}, nil
}

// Driver returns the driver that made c.
func (c *Connector) Driver() driver.Driver { return c.driver }

// GetDriver returns the registered driver.
func GetDriver() *Driver {
	return sqlcompactDriver
}
