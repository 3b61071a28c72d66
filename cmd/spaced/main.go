package main

import (
	"context"
	"encoding/json"
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"p2pspace/internal/config"
	"p2pspace/internal/node"
	"p2pspace/internal/platform/privacylog"
	"p2pspace/internal/securestore"
	"p2pspace/pkg/models"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	genesisPath := flag.String("genesis", "", "path to the space genesis JSON (required)")
	dataDir := flag.String("data-dir", "", "directory for local data (overrides config)")
	snapshotSecret := flag.String("snapshot-secret", "", "encrypt room snapshots at rest with this secret")
	flag.Parse()
	if *showVersion {
		fmt.Printf("spaced version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}
	if *genesisPath == "" {
		log.Fatal("spaced: --genesis is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("spaced failed to load config: %v", err)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	raw, err := os.ReadFile(*genesisPath)
	if err != nil {
		log.Fatalf("spaced failed to read genesis: %v", err)
	}
	var genesis models.SpaceGenesis
	if err := json.Unmarshal(raw, &genesis); err != nil {
		log.Fatalf("spaced failed to parse genesis: %v", err)
	}

	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil)))
	n, err := node.New(node.Options{Config: cfg, Genesis: genesis, Logger: logger})
	if err != nil {
		log.Fatalf("spaced failed to initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		log.Fatalf("spaced failed to start: %v", err)
	}
	logger.Info("spaced started",
		"space_id", genesis.SpaceID,
		"principal_id", n.Identity().PrincipalID,
		"transport", cfg.Transport,
	)

	snapshotsOn := securestore.IsStorageConfigured(cfg.DataDir, *snapshotSecret)
	if snapshotsOn {
		restoreSnapshots(n, cfg, *snapshotSecret, logger)
	}

	reg := prometheus.NewRegistry()
	if err := n.RegisterMetrics(reg); err != nil {
		logger.Warn("metrics registration failed", "error", err)
	}
	metricsSrv := serveMetrics(reg, cfg.RPCAddr, logger)

	<-ctx.Done()
	if snapshotsOn {
		saveSnapshots(n, cfg, *snapshotSecret, logger)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	n.Stop()
	logger.Info("spaced stopped")
}

func serveMetrics(reg *prometheus.Registry, addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server ended", "error", err)
		}
	}()
	return srv
}

func restoreSnapshots(n *node.Node, cfg config.Config, secret string, logger *slog.Logger) {
	for _, roomID := range append([]string{models.GovernanceRoomID}, cfg.Rooms...) {
		loaded, err := n.LoadRoomSnapshot(roomID, secret)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("snapshot restore failed", "room_id", roomID, "error", err)
			}
			continue
		}
		logger.Info("snapshot restored", "room_id", roomID, "events", loaded)
	}
}

func saveSnapshots(n *node.Node, cfg config.Config, secret string, logger *slog.Logger) {
	for _, roomID := range append([]string{models.GovernanceRoomID}, cfg.Rooms...) {
		if err := n.SaveRoomSnapshot(roomID, secret); err != nil {
			logger.Warn("snapshot save failed", "room_id", roomID, "error", err)
		}
	}
}
