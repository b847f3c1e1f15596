package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/pflag"

	"github.com/tuannm99/novats/tsclient"
)

// ---- History (own file) ----

type History struct {
	path  string
	lines []string
}

func NewHistory(path string) *History {
	return &History{path: path}
}

func (h *History) Load(max int) error {
	if h.path == "" {
		return nil
	}
	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		h.lines = append(h.lines, s)
		if max > 0 && len(h.lines) > max {
			h.lines = h.lines[len(h.lines)-max:]
		}
	}
	return sc.Err()
}

func (h *History) Append(stmt string) error {
	stmt = compactOneLine(stmt)
	if stmt == "" || h.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, stmt); err != nil {
		return err
	}
	h.lines = append(h.lines, stmt)
	return nil
}

func (h *History) Print(last int) {
	if last <= 0 || last > len(h.lines) {
		last = len(h.lines)
	}
	for i := len(h.lines) - last; i < len(h.lines); i++ {
		fmt.Printf("%5d  %s\n", i+1, h.lines[i])
	}
}

// compactOneLine collapses runs of whitespace into one space.
func compactOneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ---- REPL helpers ----

// unbalanced reports whether buf has an open '(' or quote, meaning the
// statement continues on the next line.
func unbalanced(buf string) bool {
	var quote rune
	escaped := false
	depth := 0
	for _, r := range buf {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
		}
	}
	return quote != 0 || depth > 0
}

func isMetaCommand(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "\\") ||
		line == "quit" || line == "exit" || line == "help"
}

const helpText = `meta commands:
  \q | quit | exit       quit
  \history               print history
  \help | help           show help

commands (trailing ';' optional):
  tables
  create <table> (<col> <type> [not null], ...)   first column must be a timestamp
  insert <table> <ts> <value> ...                  null, true/false, 'text', numbers
  delete from <table> [where <ts predicate>]
  select <*|col, ...> from <table> [where <expr>]
  flush [<table>|all]
  compact <table>
  reset                                            drop every cached query result
  drop <table>

expressions: col <op> value, col between a and b, and/or, parentheses
  ops: = != <> < <= > >=`

func printResult(res *tsclient.Result) {
	cols := make([]string, len(res.Columns))
	widths := make([]int, len(cols))
	for i, c := range res.Columns {
		cols[i] = c.Name
		widths[i] = len(c.Name)
	}
	cells := make([][]string, len(res.Rows))
	for r, row := range res.Rows {
		out := make([]string, len(cols))
		for i := range cols {
			out[i] = "NULL"
			if i < len(row) {
				out[i] = row[i].String()
			}
			if len(out[i]) > widths[i] {
				widths[i] = len(out[i])
			}
		}
		cells[r] = out
	}

	printRow := func(values []string) {
		for i := range cols {
			if i > 0 {
				fmt.Print(" | ")
			}
			fmt.Print(padRight(values[i], widths[i]))
		}
		fmt.Println()
	}

	printRow(cols)
	for i := range cols {
		if i > 0 {
			fmt.Print("-+-")
		}
		fmt.Print(strings.Repeat("-", widths[i]))
	}
	fmt.Println()
	for _, out := range cells {
		printRow(out)
	}
	fmt.Printf("(%d rows)\n", len(res.Rows))
}

func padRight(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".novats_history"
	}
	return filepath.Join(home, ".novats_history")
}

// execute runs one parsed command and prints its outcome.
func execute(ctx context.Context, cli *tsclient.Client, cmd *command) error {
	switch cmd.kind {
	case cmdTables:
		names, err := cli.Tables(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		fmt.Printf("(%d tables)\n", len(names))
		return nil
	case cmdCreate:
		return okOr(cli.CreateTable(ctx, cmd.table, cmd.columns))
	case cmdDrop:
		return okOr(cli.DropTable(ctx, cmd.table))
	case cmdInsert:
		return okOr(cli.Insert(ctx, cmd.table, cmd.ts, cmd.values...))
	case cmdDelete:
		n, err := cli.Delete(ctx, cmd.table, cmd.where)
		if err != nil {
			return err
		}
		fmt.Printf("OK (%d deleted)\n", n)
		return nil
	case cmdSelect:
		res, err := cli.Query(ctx, cmd.table, cmd.sel, cmd.where)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	case cmdFlush, cmdCompact:
		flush := cli.Flush
		if cmd.kind == cmdCompact {
			flush = cli.Compact
		}
		info, err := flush(ctx, cmd.table)
		if err != nil {
			return err
		}
		if info.Noop {
			fmt.Println("OK (nothing to flush)")
			return nil
		}
		fmt.Printf("OK (%d rows written, %d dropped, %d segments)\n", info.RowsWritten, info.RowsDropped, info.Segments)
		return nil
	case cmdFlushAll:
		return okOr(cli.FlushAll(ctx))
	case cmdReset:
		return okOr(cli.ResetQueryCache(ctx))
	}
	return fmt.Errorf("unhandled command %d", cmd.kind)
}

func okOr(err error) error {
	if err == nil {
		fmt.Println("OK")
	}
	return err
}

func runLine(cli *tsclient.Client, timeout time.Duration, line string) error {
	cmd, err := parseCommand(line)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return execute(ctx, cli, cmd)
}

func main() {
	var (
		addr     = pflag.String("addr", "127.0.0.1:5544", "server address")
		timeout  = pflag.Duration("timeout", 3*time.Second, "dial timeout")
		reqTO    = pflag.Duration("request-timeout", 30*time.Second, "per-request timeout")
		histPath = pflag.String("history", defaultHistoryPath(), "history file path")
		histMax  = pflag.Int("history-max", 2000, "max history lines loaded into memory")
		oneShot  = pflag.StringP("command", "c", "", "execute one command and exit")
	)
	pflag.Parse()

	cli, err := tsclient.Dial(*addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = cli.Close() }()

	if strings.TrimSpace(*oneShot) != "" {
		if err := runLine(cli, *reqTO, *oneShot); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			_ = cli.Close()
			os.Exit(1)
		}
		return
	}

	h := NewHistory(*histPath)
	_ = h.Load(*histMax)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "novats> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	for _, line := range h.lines {
		_ = rl.SaveHistory(line)
	}

	var buf strings.Builder

	fmt.Printf("connected to %s\n", *addr)
	fmt.Println("type help for help")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			// Ctrl+C clears current buffer
			if buf.Len() > 0 {
				buf.Reset()
				rl.SetPrompt("novats> ")
				continue
			}
			fmt.Println("^C")
			continue
		}
		if err != nil {
			fmt.Println()
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if buf.Len() == 0 && isMetaCommand(line) {
			switch line {
			case "\\q", "quit", "exit":
				return
			case "\\help", "help":
				fmt.Println(helpText)
			case "\\history":
				h.Print(50)
			default:
				fmt.Printf("unknown command: %s\n", line)
			}
			continue
		}

		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(line)
		if unbalanced(buf.String()) {
			rl.SetPrompt("...> ")
			continue
		}

		stmt := buf.String()
		buf.Reset()
		rl.SetPrompt("novats> ")

		_ = h.Append(stmt)
		_ = rl.SaveHistory(compactOneLine(stmt))

		if err := runLine(cli, *reqTO, stmt); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
