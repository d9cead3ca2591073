// Command ha-fetch-statistics downloads hourly long-term statistics and the
// current states of the configured entities from Home Assistant into the CSV
// files read by the csv source. Re-running resumes from the newest hour
// already on disk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"energyflow/internal/config"
	"energyflow/internal/homeassistant"
	"energyflow/internal/ingest"
	"energyflow/internal/model"
	"energyflow/internal/store"
)

func main() {
	configPath := flag.String("config", "energyflow.yaml", "path to the YAML configuration")
	envFile := flag.String("env-file", ".env", "dotenv file with HA_URL and HA_TOKEN")
	days := flag.Int("days", 7, "Days to fetch on first run (ignored if output file has data)")
	outputDir := flag.String("output", "", "Output directory (defaults to input_dir)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.HomeAssistant.URL == "" || cfg.HomeAssistant.Token == "" {
		log.Fatal("HA_URL and HA_TOKEN must be set in the config or .env")
	}
	dir := *outputDir
	if dir == "" {
		dir = cfg.InputDir
	}
	if dir == "" {
		dir = "input"
	}

	roles, _ := cfg.Roles()
	entityIDs := roles.PrimaryIDs()
	if len(entityIDs) == 0 {
		log.Fatal("No entities configured")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	if err != nil {
		log.Fatalf("Invalid Home Assistant URL: %v", err)
	}
	go func() {
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("home assistant client stopped", "error", err)
		}
	}()
	waitCtx, waitCancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	err = client.WaitReady(waitCtx)
	waitCancel()
	if err != nil {
		log.Fatalf("Connecting to Home Assistant: %v", err)
	}

	statsPath := filepath.Join(dir, store.StatisticsFile)
	existing, latest := loadExisting(statsPath)

	now := time.Now()
	var startTime time.Time
	if !latest.IsZero() {
		// refetch the newest hour, it may have been partial
		startTime = latest
		log.Printf("Resuming from %s", startTime.Format(time.RFC3339))
	} else {
		startTime = now.AddDate(0, 0, -*days).Truncate(time.Hour)
		log.Printf("First run, fetching last %d days from %s", *days, startTime.Format(time.RFC3339))
	}

	var fetched []ingest.StatRow
	for start := startTime; start.Before(now); start = start.Add(24 * time.Hour) {
		end := start.Add(24 * time.Hour)
		if end.After(now) {
			end = now
		}

		rows, err := client.Rows(ctx, entityIDs, start, end)
		if err != nil {
			log.Fatalf("Fetching %s: %v", start.Format("2006-01-02"), err)
		}
		fetched = append(fetched, rows...)
		log.Printf("  %s: %d rows", start.Format("2006-01-02"), len(rows))

		if end.Before(now) {
			time.Sleep(500 * time.Millisecond)
		}
	}

	merged := mergeRows(existing, fetched)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("Creating output directory: %v", err)
	}
	if err := writeFile(statsPath, func(f *os.File) error { return ingest.WriteStatistics(f, merged) }); err != nil {
		log.Fatalf("Writing statistics: %v", err)
	}
	log.Printf("Wrote %d rows to %s (was %d, fetched %d)", len(merged), statsPath, len(existing), len(fetched))

	all, err := client.States(ctx)
	if err != nil {
		log.Fatalf("Fetching states: %v", err)
	}
	states := filterStates(all, entityIDs)
	statesPath := filepath.Join(dir, store.StatesFile)
	if err := writeFile(statesPath, func(f *os.File) error { return ingest.WriteStates(f, states) }); err != nil {
		log.Fatalf("Writing states: %v", err)
	}
	log.Printf("Wrote %d states to %s", len(states), statesPath)
}

// loadExisting reads a previous export. A missing or unreadable file counts
// as empty.
func loadExisting(path string) ([]ingest.StatRow, time.Time) {
	f, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}
	}
	defer f.Close()

	rows, err := (&ingest.StatisticsParser{}).Parse(f)
	if err != nil {
		log.Printf("Ignoring unreadable %s: %v", path, err)
		return nil, time.Time{}
	}

	var latest time.Time
	for _, r := range rows {
		if r.Start.After(latest) {
			latest = r.Start
		}
	}
	return rows, latest
}

func mergeRows(existing, fetched []ingest.StatRow) []ingest.StatRow {
	type key struct {
		entityID string
		start    int64
	}

	seen := make(map[key]ingest.StatRow, len(existing)+len(fetched))
	for _, r := range existing {
		seen[key{r.EntityID, r.Start.Unix()}] = r
	}
	for _, r := range fetched {
		seen[key{r.EntityID, r.Start.Unix()}] = r // fetched overwrites existing
	}

	merged := make([]ingest.StatRow, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].EntityID != merged[j].EntityID {
			return merged[i].EntityID < merged[j].EntityID
		}
		return merged[i].Start.Before(merged[j].Start)
	})
	return merged
}

func filterStates(all []model.EntityState, entityIDs []string) []model.EntityState {
	want := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		want[id] = true
	}
	var out []model.EntityState
	for _, st := range all {
		if want[st.EntityID] {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
