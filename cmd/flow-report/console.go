package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"energyflow/internal/config"
	"energyflow/internal/model"
)

type refresher interface {
	Refresh(ctx context.Context) (model.Snapshot, error)
	Snapshot() (model.Snapshot, bool)
	Live() bool
	SetLive(live bool)
}

type console struct {
	engine refresher
	out    io.Writer
	preset *atomic.Value
}

const consoleHelp = `Commands:
  refresh            run a pass and print the report
  show               print the last report again
  live on|off        switch live mode, then refresh
  window <preset>    today, yesterday, last_24h or this_week, then refresh
  status             print the current mode and window
  help               this text
  quit               leave the console`

var completer = readline.NewPrefixCompleter(
	readline.PcItem("refresh"),
	readline.PcItem("show"),
	readline.PcItem("live", readline.PcItem("on"), readline.PcItem("off")),
	readline.PcItem("window",
		readline.PcItem(config.WindowToday),
		readline.PcItem(config.WindowYesterday),
		readline.PcItem(config.WindowLast24h),
		readline.PcItem(config.WindowThisWeek),
	),
	readline.PcItem("status"),
	readline.PcItem("help"),
	readline.PcItem("quit"),
)

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".energyflow_history")
}

func (c *console) run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "energyflow> ",
		HistoryFile:  historyFile(),
		AutoComplete: completer,
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	c.out = rl.Stdout()
	log.SetOutput(rl.Stderr())
	fmt.Fprintln(c.out, "type 'help' for commands")

	c.handle(ctx, "refresh")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.handle(ctx, line) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handle executes one console line and reports whether the console should
// exit.
func (c *console) handle(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	switch parts[0] {
	case "refresh":
		c.refresh(ctx)

	case "show":
		snap, ok := c.engine.Snapshot()
		if !ok {
			fmt.Fprintln(c.out, "no snapshot yet")
			return false
		}
		writeReport(c.out, snap)

	case "live":
		if len(parts) != 2 || (parts[1] != "on" && parts[1] != "off") {
			fmt.Fprintln(c.out, "usage: live on|off")
			return false
		}
		c.engine.SetLive(parts[1] == "on")
		c.refresh(ctx)

	case "window":
		if len(parts) != 2 {
			fmt.Fprintln(c.out, "usage: window <preset>")
			return false
		}
		if _, err := config.ResolveWindow(parts[1], time.Now(), nil); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		c.preset.Store(parts[1])
		c.refresh(ctx)

	case "status":
		fmt.Fprintf(c.out, "window %s, live %t\n", c.preset.Load(), c.engine.Live())

	case "help":
		fmt.Fprintln(c.out, consoleHelp)

	case "quit", "exit":
		return true

	default:
		fmt.Fprintf(c.out, "unknown command %q, type 'help'\n", parts[0])
	}
	return false
}

func (c *console) refresh(ctx context.Context) {
	snap, err := c.engine.Refresh(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "pass failed: %v\n", err)
		return
	}
	writeReport(c.out, snap)
}
