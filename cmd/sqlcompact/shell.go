package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite"
)

// ShellCmd starts an interactive SQL shell.
type ShellCmd struct {
	DB DBFlags `embed:""`
}

func (c *ShellCmd) Run(cfg *Config) error {
	db, err := c.DB.open(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()
	return newShell(db, c.DB.Path, stdout).Run()
}

var dotCommands = []string{".help", ".info", ".quit", ".schema", ".tables", ".vacuum"}

var sqlKeywords = []string{
	"BEGIN", "COMMIT", "CREATE", "DELETE", "DROP", "FROM", "INDEX", "INSERT",
	"INTO", "ORDER BY", "PRAGMA", "ROLLBACK", "SELECT", "SET", "TABLE",
	"UPDATE", "VALUES", "VACUUM", "WHERE",
}

// Shell is the interactive statement loop. SQL accumulates across lines
// until a line ends with a semicolon.
type Shell struct {
	db      *sql.DB
	path    string
	out     io.Writer
	pending strings.Builder
	liner   *liner.State
}

func newShell(db *sql.DB, path string, out io.Writer) *Shell {
	return &Shell{db: db, path: path, out: out}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sqlcompact_history")
}

// Run reads lines until .quit or end of input.
func (s *Shell) Run() error {
	s.liner = liner.NewLiner()
	defer s.liner.Close()

	s.liner.SetCtrlCAborts(true)
	s.liner.SetCompleter(s.completer)
	if f, err := os.Open(historyFile()); err == nil {
		s.liner.ReadHistory(f)
		f.Close()
	}
	defer s.saveHistory()

	fmt.Fprintf(s.out, "sqlcompact %s - %s\n", version, s.path)
	fmt.Fprintln(s.out, "Enter SQL terminated by ';' or .help for commands.")

	for {
		prompt := "sqlcompact> "
		if s.pending.Len() > 0 {
			prompt = "       ...> "
		}
		line, err := s.liner.Prompt(prompt)
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(s.out)
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.liner.AppendHistory(line)

		done, err := s.Eval(line)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
		if done {
			return nil
		}
	}
}

func (s *Shell) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			s.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (s *Shell) completer(line string) []string {
	var out []string
	if strings.HasPrefix(line, ".") {
		for _, c := range dotCommands {
			if strings.HasPrefix(c, line) {
				out = append(out, c)
			}
		}
		return out
	}
	i := strings.LastIndexAny(line, " (,") + 1
	head, word := line[:i], strings.ToUpper(line[i:])
	if word == "" {
		return nil
	}
	for _, k := range sqlKeywords {
		if strings.HasPrefix(k, word) {
			out = append(out, head+k)
		}
	}
	return out
}

// Eval handles one input line. It reports done once the shell should exit.
func (s *Shell) Eval(line string) (done bool, err error) {
	trimmed := strings.TrimSpace(line)
	if s.pending.Len() == 0 && strings.HasPrefix(trimmed, ".") {
		return s.dot(strings.Fields(trimmed))
	}
	if s.pending.Len() > 0 {
		s.pending.WriteByte('\n')
	}
	s.pending.WriteString(line)
	if !strings.HasSuffix(trimmed, ";") {
		return false, nil
	}
	script := s.pending.String()
	s.pending.Reset()

	rs, err := sqlite.Script(context.Background(), s.db, script)
	if err != nil {
		return false, err
	}
	printResult(s.out, rs)
	return false, nil
}

func (s *Shell) dot(args []string) (bool, error) {
	ctx := context.Background()
	switch args[0] {
	case ".quit", ".exit":
		return true, nil

	case ".help":
		fmt.Fprintln(s.out, ".info            storage settings")
		fmt.Fprintln(s.out, ".schema [NAME]   CREATE statements")
		fmt.Fprintln(s.out, ".tables          table names")
		fmt.Fprintln(s.out, ".vacuum [N]      rebuild with page reserve N")
		fmt.Fprintln(s.out, ".quit            leave the shell")

	case ".tables":
		rs, err := sqlite.Script(ctx, s.db,
			"SELECT name FROM sqlite_master WHERE type = 'table'")
		if err != nil {
			return false, err
		}
		names := make([]string, 0, len(rs.Rows))
		for _, row := range rs.Rows {
			if name := fmt.Sprint(row[0]); !strings.HasPrefix(name, "sqlite_") {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		if len(names) > 0 {
			fmt.Fprintln(s.out, strings.Join(names, "  "))
		}

	case ".schema":
		query := "SELECT sql FROM sqlite_master WHERE sql IS NOT NULL"
		if len(args) > 1 {
			query += " AND tbl_name = " + quoteLiteral(args[1])
		}
		rs, err := sqlite.Script(ctx, s.db, query)
		if err != nil {
			return false, err
		}
		for _, row := range rs.Rows {
			fmt.Fprintf(s.out, "%v;\n", row[0])
		}

	case ".info":
		st, err := sqlite.Inspect(ctx, s.db)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page_size=%d reserve=%d pages=%d freelist=%d schema_version=%d\n",
			st.PageSize, st.Reserve, st.PageCount, st.FreelistCount, st.SchemaVersion)

	case ".vacuum":
		reserve := -1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return false, fmt.Errorf("bad reserve %q", args[1])
			}
			reserve = n
		}
		if reserve < 0 {
			st, err := sqlite.Inspect(ctx, s.db)
			if err != nil {
				return false, err
			}
			reserve = int(st.Reserve)
		}
		res, err := sqlite.Vacuum(ctx, s.db, reserve)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page_size=%d reserve=%d pages=%d\n", res.PageSize, res.Reserve, res.Pages)

	default:
		return false, fmt.Errorf("unknown command %s (try .help)", args[0])
	}
	return false, nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
