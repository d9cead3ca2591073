// Command flow-report runs one reconciliation pass and prints the flows,
// role totals and carbon split. With -i it stays in an interactive console
// for re-running passes with other windows or modes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"energyflow/internal/config"
	"energyflow/internal/engine"
	"energyflow/internal/model"
	"energyflow/internal/sources"
)

func main() {
	configPath := flag.String("config", "energyflow.yaml", "path to the YAML configuration")
	envFile := flag.String("env-file", ".env", "dotenv file with secrets")
	window := flag.String("window", "", "window preset (today, yesterday, last_24h, this_week)")
	live := flag.String("live", "", "override live mode (true/false)")
	asJSON := flag.Bool("json", false, "print the snapshot as JSON")
	interactive := flag.Bool("i", false, "interactive console")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *window != "" {
		cfg.Window = *window
	}
	switch *live {
	case "":
	case "true":
		cfg.Live = true
	case "false":
		cfg.Live = false
	default:
		log.Fatalf("Invalid -live value %q", *live)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	set, err := sources.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open %s source: %v", cfg.Source, err)
	}
	defer set.Close()

	opts, err := sources.EngineOptions(cfg, set, logger, nil)
	if err != nil {
		log.Fatal(err)
	}
	loc := opts.Location
	var preset atomic.Value
	preset.Store(cfg.Window)
	opts.Window = func(now time.Time) (model.TimeRange, error) {
		return config.ResolveWindow(preset.Load().(string), now, loc)
	}
	eng := engine.New(set.Stats, set.States, opts)

	if *interactive {
		c := &console{engine: eng, out: os.Stdout, preset: &preset}
		if err := c.run(ctx); err != nil {
			log.Fatal(err)
		}
		return
	}

	snap, err := eng.Refresh(ctx)
	if err != nil {
		log.Fatalf("Pass failed: %v", err)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reportJSON(snap)); err != nil {
			log.Fatal(err)
		}
		return
	}
	writeReport(os.Stdout, snap)
}
