// Command sqlcompact rebuilds database files in place, optionally with a new
// per-page reserve, and inspects, verifies and snapshots them.
package main

import (
	"io"
	"os"

	"github.com/alecthomas/kong"
)

const version = "0.1.0"

// Output streams. Tests replace them.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// CLI defines the command-line interface for sqlcompact.
type CLI struct {
	// Global flags
	ConfigFile string `name:"config" short:"c" help:"Config file (JSON with comments, or YAML)" type:"path"`
	LogLevel   string `name:"log-level" help:"Log level (debug, info, warn, error)"`
	LogFormat  string `name:"log-format" help:"Log format (text, json)"`

	Vacuum   VacuumCmd     `cmd:"" help:"Rebuild a database, optionally with a new page reserve"`
	Exec     ExecCmd       `cmd:"" help:"Run SQL against a database"`
	Info     InfoCmd       `cmd:"" help:"Show the storage settings of a database"`
	Verify   VerifyCmd     `cmd:"" help:"Check database integrity"`
	Snapshot SnapshotGroup `cmd:"" help:"Compressed database snapshots"`
	Shell    ShellCmd      `cmd:"" help:"Interactive SQL shell"`
	Config   ConfigGroup   `cmd:"" help:"Config file operations"`
	Version  VersionCmd    `cmd:"" help:"Print version information"`
}

// SnapshotGroup contains snapshot operations.
type SnapshotGroup struct {
	Create  SnapshotCreateCmd  `cmd:"" help:"Write an xz-compressed copy of a database"`
	Restore SnapshotRestoreCmd `cmd:"" help:"Replace a database with a snapshot"`
}

// ConfigGroup contains config file operations.
type ConfigGroup struct {
	Init ConfigInitCmd `cmd:"" help:"Write a config file with the defaults"`
	Show ConfigShowCmd `cmd:"" help:"Print the effective config"`
}

// resolveConfig loads the config file and lets the global flags override it.
func (c *CLI) resolveConfig() (Config, error) {
	cfg, err := LoadConfig(c.ConfigFile)
	if err != nil {
		return cfg, err
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.LogFormat = c.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, cfg.InitLogging()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("sqlcompact"),
		kong.Description("Online VACUUM with page reserve resize"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	cfg, err := cli.resolveConfig()
	ctx.FatalIfErrorf(err)
	err = ctx.Run(&cfg)
	ctx.FatalIfErrorf(err)
}
