package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"energyflow/internal/config"
	"energyflow/internal/engine"
	"energyflow/internal/metrics"
	"energyflow/internal/mqttpub"
	"energyflow/internal/sources"
	"energyflow/internal/ws"
)

func main() {
	configPath := flag.String("config", "energyflow.yaml", "path to the YAML configuration")
	envFile := flag.String("env-file", ".env", "dotenv file with secrets")
	addr := flag.String("addr", "", "listen address (overrides listen_addr)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Opening %s source...", cfg.Source)
	set, err := sources.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open %s source: %v", cfg.Source, err)
	}
	defer set.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts, err := sources.EngineOptions(cfg, set, logger, m)
	if err != nil {
		log.Fatalf("Failed to build engine options: %v", err)
	}
	eng := engine.New(set.Stats, set.States, opts)

	hub := ws.NewHub(logger.With("component", "ws"), m)
	eng.AddCallback(ws.NewBridge(hub))

	if cfg.MQTT.Enabled() {
		startMQTT(ctx, cfg.MQTT, logger.With("component", "mqtt"), eng)
	}

	mux := newMux(ws.NewHandler(hub, eng), reg)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := eng.Run(ctx, cfg.RefreshInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting server on %s (window %s, refresh every %s)", cfg.ListenAddr, cfg.Window, cfg.RefreshInterval)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Printf("Server stopped")
}

func newMux(wsHandler http.Handler, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/ws", wsHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func startMQTT(ctx context.Context, cfg config.MQTTConfig, logger *slog.Logger, eng *engine.Engine) {
	outgoing := make(chan mqttpub.Message, 100)
	clients := make(chan mqttpub.Publisher, 1)

	go mqttpub.NewSender(logger).Run(ctx, outgoing, clients)

	exporter := mqttpub.NewExporter(cfg.DiscoveryPrefix, cfg.TopicPrefix, outgoing, logger)
	if err := exporter.PublishDiscovery(); err != nil {
		log.Fatalf("Failed to build MQTT discovery configs: %v", err)
	}
	eng.AddCallback(exporter)

	client := mqttpub.Connect(cfg, logger, clients)
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	log.Printf("Publishing flows to MQTT broker %s", cfg.Broker)
}
