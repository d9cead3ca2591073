// Package sources builds the statistics, state and carbon sources selected
// by the configuration and the engine options that go with them.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"energyflow/internal/config"
	"energyflow/internal/engine"
	"energyflow/internal/homeassistant"
	"energyflow/internal/metrics"
	"energyflow/internal/model"
	"energyflow/internal/recorder"
	"energyflow/internal/store"
)

// Set is an opened group of sources. Carbon is nil unless the backend has an
// explicit carbon series.
type Set struct {
	Stats  engine.StatisticsSource
	States engine.StateSource
	Carbon engine.CarbonSource

	closers []func() error
}

// Close releases connections held by the sources.
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Open opens the backend named by cfg.Source. The Home Assistant client runs
// in the background until ctx ends or Close is called; Open waits at most
// cfg.FetchTimeout for it to authenticate.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	switch cfg.Source {
	case config.SourceHomeAssistant:
		return openHomeAssistant(ctx, cfg, logger.With("component", "homeassistant"))

	case config.SourceRecorder:
		r, err := recorder.Open(cfg.RecorderPath, loc, logger.With("component", "recorder"))
		if err != nil {
			return nil, err
		}
		return &Set{Stats: r, States: r, closers: []func() error{r.Close}}, nil

	case config.SourceCSV:
		st, err := store.LoadDir(cfg.InputDir, loc)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", cfg.InputDir, err)
		}
		logLoaded(cfg, st, logger.With("component", "store"))
		set := &Set{Stats: st, States: st}
		if st.HasCarbon() {
			set.Carbon = st
		}
		return set, nil

	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

func logLoaded(cfg config.Config, st *store.Store, logger *slog.Logger) {
	if tr, ok := st.GlobalTimeRange(); ok {
		logger.Info("loaded statistics", "dir", cfg.InputDir, "from", tr.Start, "to", tr.End)
	}
	roles, _ := cfg.Roles()
	for _, role := range model.EnergyRoles {
		id, ok := roles.Primary(role)
		if !ok {
			continue
		}
		if n := st.RowCount(id); n == 0 {
			logger.Warn("no statistics rows for entity", "role", role, "entity_id", id)
		} else {
			logger.Debug("statistics rows", "role", role, "entity_id", id, "rows", n)
		}
	}
}

func openHomeAssistant(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Set, error) {
	client, err := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := client.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("home assistant client stopped", "error", err)
		}
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	defer waitCancel()
	if err := client.WaitReady(waitCtx); err != nil {
		cancel()
		return nil, err
	}

	rest := homeassistant.NewRESTClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	return &Set{
		Stats:  client,
		States: rest,
		closers: []func() error{func() error {
			cancel()
			return nil
		}},
	}, nil
}

// EngineOptions derives engine options from cfg.
func EngineOptions(cfg config.Config, set *Set, logger *slog.Logger, m *metrics.Metrics) (engine.Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return engine.Options{}, err
	}
	roles, tolerances := cfg.Roles()
	preset := cfg.Window

	return engine.Options{
		Roles:        roles,
		Tolerances:   tolerances,
		Location:     loc,
		Live:         cfg.Live,
		FetchTimeout: cfg.FetchTimeout,
		Window: func(now time.Time) (model.TimeRange, error) {
			return config.ResolveWindow(preset, now, loc)
		},
		Carbon:  set.Carbon,
		Logger:  logger,
		Metrics: m,
	}, nil
}
