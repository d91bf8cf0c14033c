package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Wikid82/argus/backend/internal/api/routes"
	"github.com/Wikid82/argus/backend/internal/assessor"
	"github.com/Wikid82/argus/backend/internal/config"
	"github.com/Wikid82/argus/backend/internal/database"
	"github.com/Wikid82/argus/backend/internal/device"
	"github.com/Wikid82/argus/backend/internal/logger"
	"github.com/Wikid82/argus/backend/internal/metrics"
	"github.com/Wikid82/argus/backend/internal/rbac"
	"github.com/Wikid82/argus/backend/internal/server"
	"github.com/Wikid82/argus/backend/internal/services"
	"github.com/Wikid82/argus/backend/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Handle CLI commands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "issue-token":
			issueToken(cfg, os.Args[2:])
			return
		case "hash-sensor-key":
			hashSensorKey(os.Args[2:])
			return
		}
	}

	// Setup logging with rotation
	logDir := cfg.LogDir
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logDir = filepath.Join("data", "logs")
		_ = os.MkdirAll(logDir, 0o755)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "argus.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	defer rotator.Close()

	// Log to both stdout and file
	mw := io.MultiWriter(os.Stdout, rotator)
	log.SetOutput(mw)
	logger.Init(cfg.Debug, mw)

	logger.Log().WithField("version", version.Full()).Infof("starting %s backend", version.Name)

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		logger.Log().WithError(err).Fatal("connect database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Log().WithError(err).Fatal("migrate database")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	var reasoner assessor.Reasoner
	if client, err := assessor.NewOllamaClient(cfg.Reasoner); err != nil {
		logger.Log().WithError(err).Warn("reasoning service disabled, scores will use the rule fallback")
	} else {
		reasoner = client
	}

	ctrl, err := device.New(cfg.Device)
	if err != nil {
		logger.Log().WithError(err).Fatal("device controller")
	}

	secret := cfg.JWTSecret
	if secret == "" {
		// No tokens can be verified against a throwaway secret, so every
		// guarded route answers 401 until ARGUS_JWT_SECRET is set.
		secret = uuid.NewString()
		logger.Log().Warn("ARGUS_JWT_SECRET not set, operator routes are locked")
	}

	escalator := services.NewShoutrrrEscalator(cfg.NotifyURLs)
	audit := services.NewAuditService(db)
	engine := services.NewExecutionEngine(db, ctrl, audit, services.EngineOptions{
		Workers:   cfg.Exec.Workers,
		BaseDelay: cfg.Exec.RetryBaseDelay,
		Escalator: escalator,
	})

	reaper := services.NewTaskReaper(db, audit, escalator, cfg.Exec.StaleTaskAfter)
	if n, err := reaper.Sweep(context.Background()); err != nil {
		logger.Log().WithError(err).Error("boot sweep of stale tasks failed")
	} else if n > 0 {
		logger.Log().WithField("tasks", n).Warn("ended tasks orphaned by a previous run")
	}
	if err := reaper.Start(cfg.Exec.ReaperSchedule); err != nil {
		logger.Log().WithError(err).Fatal("start task reaper")
	}

	srv, err := server.New(db, cfg, routes.Dependencies{
		Events:    services.NewEventService(db, assessor.New(reasoner), audit),
		Approvals: services.NewApprovalService(db, audit, engine, cfg.Device.DefaultDeviceID),
		Audit:     audit,
		Authz:     rbac.NewJWTAuthorizer(secret),
		Registry:  registry,
	})
	if err != nil {
		logger.Log().WithError(err).Fatal("build server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log().WithField("port", cfg.HTTPPort).Infof("starting %s backend", version.Name)
	if err := srv.Run(ctx); err != nil {
		logger.Log().WithError(err).Error("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reaper.Stop()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Log().WithError(err).Warn("execution engine did not drain in time")
	}
	escalator.Wait()
	logger.Log().Info("shutdown complete")
}

func issueToken(cfg config.Config, args []string) {
	if len(args) < 2 {
		log.Fatalf("Usage: %s issue-token <username> <role> [permission,...]", os.Args[0])
	}
	if cfg.JWTSecret == "" {
		log.Fatal("ARGUS_JWT_SECRET must be set to issue tokens")
	}
	user := rbac.User{Username: args[0], Role: args[1]}
	if len(args) > 2 {
		for _, p := range strings.Split(args[2], ",") {
			if p = strings.TrimSpace(p); p != "" {
				user.Permissions = append(user.Permissions, p)
			}
		}
	}
	token, err := rbac.NewJWTAuthorizer(cfg.JWTSecret).IssueToken(user, 24*time.Hour)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
}

func hashSensorKey(args []string) {
	if len(args) != 1 {
		log.Fatalf("Usage: %s hash-sensor-key <key>", os.Args[0])
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("hash sensor key: %v", err)
	}
	fmt.Println(string(hash))
}
