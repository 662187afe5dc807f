// Command bucketnode runs a single BucketList storage node: it opens a
// bucket directory, campaigns for the single-writer leadership lease
// over ZooKeeper, runs the consensus adapter that drives AddBatch once
// per committed ledger close, and serves the read-only admin HTTP
// surface. Grounded on the teacher's cmd/main.go + cmd/init.go wiring
// (config load, logger init, ZK membership, HTTP server lifecycle),
// generalized from ring/sharding membership to single-leader election
// and from a KV store to the bucket list engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bucketnode/internal/adminhttp"
	"bucketnode/internal/cluster"
	"bucketnode/internal/consensusadapter"
	"bucketnode/pkg/bucketmanager"
	"bucketnode/pkg/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults applied if absent)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bucketnode: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bucketnode exited with error", "error", err)
		os.Exit(1)
	}
}

func initLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logger.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	manager, err := bucketmanager.New(ctx, bucketmanager.Config{
		Dir:         cfg.Bucket.Dir,
		Protocol:    cfg.Bucket.Protocol,
		WorkerCount: cfg.Bucket.WorkerCount,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("open bucket manager: %w", err)
	}

	var leaderChecker adminhttp.LeaderChecker
	if len(cfg.Leader.ZKServers) > 0 {
		elector, err := cluster.NewLeaderElector(cfg.Leader.ZKServers, cfg.Leader.RootPath, cfg.Leader.NodeID)
		if err != nil {
			return fmt.Errorf("connect to zookeeper: %w", err)
		}
		defer elector.Close()

		if err := elector.Enroll(); err != nil {
			return fmt.Errorf("enroll as leadership candidate: %w", err)
		}
		leaderChecker = elector
	}

	adapter, err := consensusadapter.New(cfg.Raft, manager, logger)
	if err != nil {
		return fmt.Errorf("start consensus adapter: %w", err)
	}

	adminServer := adminhttp.New(manager, leaderChecker, cfg.HTTP.ListenAddr, logger)
	adminServer.Start()

	consensusDone := make(chan error, 1)
	go func() { consensusDone <- adapter.Run(ctx) }()

	logger.Info("bucketnode running", "bucket_dir", cfg.Bucket.Dir, "admin_addr", cfg.HTTP.ListenAddr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining")
	case err := <-consensusDone:
		if err != nil && err != context.Canceled {
			logger.Error("consensus adapter stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	manager.Shutdown(shutdownCtx)
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin http server shutdown error", "error", err)
	}

	return nil
}
