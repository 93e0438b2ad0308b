// Command docbase-cli is an interactive shell over an embedded docbase
// database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"docbase"
	"docbase/internal/config"
)

var (
	colorPrompt = color.New(color.FgCyan).SprintFunc()
	colorInfo   = color.New(color.FgYellow).SprintFunc()
	colorOk     = color.New(color.FgGreen).SprintFunc()
	colorErr    = color.New(color.FgRed).SprintFunc()
)

type command struct {
	help    string
	handler func(c *cli, args string) error
}

type cli struct {
	db                *docbase.DB
	rl                *readline.Instance
	currentCollection string
	commands          map[string]command
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg := config.LoadConfig()
	dataDir := flag.String("data", cfg.DataDir, "storage location (use memory:// for no persistence)")
	flag.Parse()

	db, err := docbase.Open(*dataDir, docbase.WithSyncWrites(cfg.SyncWrites))
	if err != nil {
		fmt.Fprintln(os.Stderr, colorErr("failed to open database: "), err)
		os.Exit(1)
	}
	defer closeWithTimeout(db, cfg.ShutdownTimeout)

	c := newCLI(db)
	if err := c.run(); err != nil {
		fmt.Fprintln(os.Stderr, colorErr(err.Error()))
		os.Exit(1)
	}
}

// closeWithTimeout settles queued writes on exit but never hangs the shell
// past the configured bound.
func closeWithTimeout(db *docbase.DB, timeout time.Duration) {
	done := make(chan error, 1)
	go func() { done <- db.Close() }()
	select {
	case err := <-done:
		if err != nil {
			fmt.Fprintln(os.Stderr, colorErr("close: "), err)
		}
	case <-time.After(timeout):
		fmt.Fprintln(os.Stderr, colorErr("close timed out after "), timeout)
	}
}

func newCLI(db *docbase.DB) *cli {
	c := &cli{db: db}
	c.commands = c.getCommands()
	return c
}

func (c *cli) run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          colorPrompt("> "),
		HistoryFile:     "/tmp/docbase_history.tmp",
		AutoComplete:    c.getCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	c.rl = rl
	defer rl.Close()

	fmt.Println(colorInfo("docbase shell. Type 'help' for commands."))
	return c.mainLoop()
}

func (c *cli) mainLoop() error {
	for {
		prompt := "> "
		if c.currentCollection != "" {
			prompt = c.currentCollection + "> "
		}
		c.rl.SetPrompt(colorPrompt(prompt))

		input, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if len(input) == 0 {
					return nil
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		name, args, _ := strings.Cut(input, " ")
		cmd, known := c.commands[name]
		if !known {
			fmt.Println(colorErr("unknown command: " + name))
			continue
		}
		if err := cmd.handler(c, strings.TrimSpace(args)); err != nil {
			fmt.Println(colorErr("error: ") + err.Error())
		}
	}
}

func (c *cli) getCommands() map[string]command {
	return map[string]command{
		"use":         {help: "use <collection> - switch the active collection", handler: (*cli).handleUse},
		"collections": {help: "collections - list known collections", handler: (*cli).handleCollections},
		"insert":      {help: "insert <json> - insert one document", handler: (*cli).handleInsert},
		"find":        {help: "find [json] - list matching documents", handler: (*cli).handleFind},
		"findone":     {help: "findone [json] - show the first match", handler: (*cli).handleFindOne},
		"count":       {help: "count [json] - count matching documents", handler: (*cli).handleCount},
		"update":      {help: "update <filter-json> <update-json> - update all matches", handler: (*cli).handleUpdate},
		"delete":      {help: "delete <json> - delete all matches", handler: (*cli).handleDelete},
		"compact":     {help: "compact - rewrite the active collection's log", handler: (*cli).handleCompact},
		"drop":        {help: "drop - drop the active collection", handler: (*cli).handleDrop},
		"clear":       {help: "clear - clear the screen", handler: (*cli).handleClear},
		"help":        {help: "help - show this help", handler: (*cli).handleHelp},
	}
}

func (c *cli) getCompleter() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("use", readline.PcItemDynamic(c.fetchCollectionNames)),
		readline.PcItem("collections"),
		readline.PcItem("insert"),
		readline.PcItem("find"),
		readline.PcItem("findone"),
		readline.PcItem("count"),
		readline.PcItem("update"),
		readline.PcItem("delete"),
		readline.PcItem("compact"),
		readline.PcItem("drop"),
		readline.PcItem("clear"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

func (c *cli) fetchCollectionNames(string) []string {
	names, err := c.db.Collections()
	if err != nil {
		return nil
	}
	sort.Strings(names)
	return names
}
