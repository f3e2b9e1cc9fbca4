// Package main runs the agentdeck daemon: a session orchestrator over one
// agent subprocess, publishing normalized events to NATS and persisting
// resume state so sessions survive restarts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/notify"
	"github.com/agentdeck/agentdeck/internal/process"
	"github.com/agentdeck/agentdeck/internal/session"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting agentdeck",
		zap.String("agent_command", cfg.Agent.Command),
		zap.String("work_dir", cfg.Agent.WorkDir))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resumeStore, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Error("failed to open resume store", zap.Error(err))
		os.Exit(1)
	}
	defer resumeStore.Close()

	publisher, err := notify.Connect(cfg.NATS, log)
	if err != nil {
		log.Error("failed to connect to nats", zap.Error(err))
		os.Exit(1)
	}
	defer publisher.Close()

	launcher := process.NewLauncher(process.LauncherConfig{
		Command:       cfg.Agent.Command,
		Args:          cfg.Agent.Args,
		WorkDir:       cfg.Agent.WorkDir,
		ShutdownGrace: time.Duration(cfg.Agent.ShutdownGraceSeconds) * time.Second,
	}, log)

	sink := session.FanoutSink(
		session.SinkFunc(func(ev session.Event) {
			log.Debug("session event",
				zap.String("type", string(ev.Type)),
				zap.String("session_id", ev.SessionID),
				zap.String("turn_id", ev.TurnID))
		}),
		publisher,
	)

	permissions := session.NewPermissionBridge(nil, log)
	engine := session.NewEngine(nil, permissions, sink, log)
	manager := session.NewManager(session.ManagerConfig{
		WorkDir: cfg.Agent.WorkDir,
		DefaultMode: session.Mode{
			ApprovalPolicy: cfg.Agent.ApprovalPolicy,
		},
	}, launcher, resumeStore, engine, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := manager.Run(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("orchestration loop failed", zap.Error(err))
	}

	// Shutdown: persist resume state, then tear the subprocess down.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.StoreSessionForResume(shutdownCtx)
	if err := launcher.Stop(shutdownCtx); err != nil {
		log.Warn("agent shutdown incomplete", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", zap.Error(err))
	}
	log.Info("agentdeck stopped")
}
