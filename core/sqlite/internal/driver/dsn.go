package driver

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/codec"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/engine"
)

// Config is a parsed data source name.
//
//	path/to/file.db?_key=secret&_reserve=32&mode=ro
//
// Recognised parameters:
//
//	_key           passphrase; selects the cipher codec unless _codec says otherwise
//	_codec         none, checksum or cipher
//	_reserve       per-page reserve for a new database
//	_page_size     page size for a new database
//	_cache_size    page cache size in pages
//	_busy_timeout  lock wait in milliseconds
//	mode           ro opens the database read-only
type Config struct {
	Filename string
	Key      string
	Codec    string
	Options  engine.Options
}

// ParseDSN splits dsn into a filename and options.
func ParseDSN(dsn string) (*Config, error) {
	name, query, _ := strings.Cut(dsn, "?")
	name = strings.TrimPrefix(name, "file:")
	if name == "" || name == ":memory:" {
		return nil, errs.NewValidation("dsn", "a database file is required")
	}
	cfg := &Config{Filename: name}
	if query == "" {
		return cfg, nil
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, errs.NewValidation("dsn", err.Error())
	}
	intParam := func(key string, dst *int) error {
		v := params.Get(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.NewValidation(key, "not an integer: "+v)
		}
		*dst = n
		return nil
	}

	cfg.Key = params.Get("_key")
	cfg.Codec = params.Get("_codec")
	for key, dst := range map[string]*int{
		"_reserve":    &cfg.Options.Reserve,
		"_page_size":  &cfg.Options.PageSize,
		"_cache_size": &cfg.Options.CacheSize,
	} {
		if err := intParam(key, dst); err != nil {
			return nil, err
		}
	}
	var busy int
	if err := intParam("_busy_timeout", &busy); err != nil {
		return nil, err
	}
	cfg.Options.BusyTimeout = time.Duration(busy) * time.Millisecond

	switch mode := params.Get("mode"); mode {
	case "", "rw", "rwc":
	case "ro":
		cfg.Options.ReadOnly = true
	default:
		return nil, errs.NewValidation("mode", "unknown mode "+mode)
	}
	return cfg, nil
}

// EngineOptions builds the codec named by the config and returns the options
// to open the engine with. A codec without an explicit reserve gets exactly
// the reserve it needs.
func (c *Config) EngineOptions() (engine.Options, error) {
	opts := c.Options
	cd, err := codec.New(c.Codec, c.Key, opts.Reserve)
	if err != nil {
		return opts, err
	}
	if cd != nil {
		opts.Codec = cd
		if opts.Reserve == 0 {
			opts.Reserve = cd.Overhead()
		}
	}
	return opts, nil
}
