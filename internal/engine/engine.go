// Package engine runs reconciliation passes: it fetches statistics for the
// configured meters, reconciles and decomposes them into flows and publishes
// immutable snapshots.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"energyflow/internal/config"
	"energyflow/internal/flows"
	"energyflow/internal/metrics"
	"energyflow/internal/model"
)

var (
	// ErrNoStatistics is returned when the statistics source did not answer
	// within the fetch timeout.
	ErrNoStatistics = errors.New("engine: no statistics received")
	// ErrSuperseded is returned by a pass whose result was discarded because
	// a newer refresh was requested while it was running.
	ErrSuperseded = errors.New("engine: pass superseded by a newer refresh")
)

// WindowFunc resolves the window to compute for the given instant.
type WindowFunc func(now time.Time) (model.TimeRange, error)

// Options configure an Engine.
type Options struct {
	Roles        config.RoleMapping
	Tolerances   flows.Tolerances
	Location     *time.Location
	Live         bool
	Window       WindowFunc
	FetchTimeout time.Duration

	Carbon  CarbonSource
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Engine owns the reconciliation pipeline for one role configuration.
type Engine struct {
	stats  StatisticsSource
	states StateSource
	opts   Options
	logger *slog.Logger

	passMu   sync.Mutex
	gen      atomic.Uint64
	live     atomic.Bool
	snapshot atomic.Pointer[model.Snapshot]

	cbMu      sync.Mutex
	callbacks []Callback

	trigger chan struct{}
}

// New creates an engine. states may be nil, which disables the live
// extension regardless of opts.Live.
func New(stats StatisticsSource, states StateSource, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Window == nil {
		loc := opts.Location
		opts.Window = func(now time.Time) (model.TimeRange, error) {
			return config.ResolveWindow(config.WindowToday, now, loc)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		stats:   stats,
		states:  states,
		opts:    opts,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
	e.live.Store(opts.Live)
	return e
}

// AddCallback registers cb for every future snapshot.
func (e *Engine) AddCallback(cb Callback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// Snapshot returns the last published snapshot.
func (e *Engine) Snapshot() (model.Snapshot, bool) {
	s := e.snapshot.Load()
	if s == nil {
		return model.Snapshot{}, false
	}
	return *s, true
}

// Live reports whether passes extend history with current readings.
func (e *Engine) Live() bool {
	return e.live.Load()
}

// SetLive switches between pure history and live mode. It takes effect on
// the next pass.
func (e *Engine) SetLive(live bool) {
	e.live.Store(live)
}

// Trigger asks Run for an immediate pass. It never blocks; triggers that
// arrive while one is pending are merged.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Refresh runs one pass and publishes its snapshot. Passes never overlap: a
// call waits for the running pass, and that pass is discarded with
// ErrSuperseded because a newer one was requested.
func (e *Engine) Refresh(ctx context.Context) (model.Snapshot, error) {
	gen := e.gen.Add(1)

	e.passMu.Lock()
	defer e.passMu.Unlock()

	started := time.Now()
	logger := e.logger.With("pass", gen)

	snap, err := e.runPass(ctx, logger)
	if err == nil && e.gen.Load() != gen {
		err = ErrSuperseded
	}

	switch {
	case errors.Is(err, ErrSuperseded):
		logger.Info("discarding superseded pass")
		e.opts.Metrics.ObservePass(metrics.ResultSuperseded, time.Since(started))
		return model.Snapshot{}, err
	case err != nil:
		logger.Error("pass failed", "error", err)
		e.opts.Metrics.ObservePass(metrics.ResultError, time.Since(started))
		return model.Snapshot{}, err
	}

	e.snapshot.Store(&snap)
	e.opts.Metrics.ObservePass(metrics.ResultSuccess, time.Since(started))
	e.opts.Metrics.ObserveSnapshot(snap)
	logger.Debug("published snapshot",
		"window_start", snap.Window.Start,
		"period", snap.Period,
		"home_wh", snap.Totals.HomeConsumption,
		"duration", time.Since(started))

	e.cbMu.Lock()
	cbs := append([]Callback(nil), e.callbacks...)
	e.cbMu.Unlock()
	for _, cb := range cbs {
		cb.OnSnapshot(snap)
	}
	return snap, nil
}

// Run refreshes immediately, then on every tick of interval and on every
// Trigger, until ctx is done. Pass errors are logged and do not stop the
// loop.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Refresh(ctx)
		case <-e.trigger:
			e.Refresh(ctx)
		}
	}
}
