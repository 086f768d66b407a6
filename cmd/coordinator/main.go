// Command coordinator runs the fleet control plane: the node-agent
// WebSocket surface, the admin HTTP API, and the background watchdogs that
// keep node state, inference health, and bot billing converged.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/botfleet/coordinator/internal/billing"
	"github.com/botfleet/coordinator/internal/commandbus"
	"github.com/botfleet/coordinator/internal/config"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/heartbeat"
	"github.com/botfleet/coordinator/internal/httpapi"
	"github.com/botfleet/coordinator/internal/inference"
	"github.com/botfleet/coordinator/internal/ledger"
	"github.com/botfleet/coordinator/internal/notify"
	"github.com/botfleet/coordinator/internal/orchestrator"
	"github.com/botfleet/coordinator/internal/placement"
	"github.com/botfleet/coordinator/internal/platform/database"
	"github.com/botfleet/coordinator/internal/platform/migrations"
	"github.com/botfleet/coordinator/internal/registration"
	"github.com/botfleet/coordinator/internal/storage"
	"github.com/botfleet/coordinator/internal/storage/memory"
	"github.com/botfleet/coordinator/internal/storage/postgres"
	"github.com/botfleet/coordinator/pkg/logger"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	configPath := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	webhookURL := flag.String("notify-webhook", "", "webhook URL for operator notifications (optional)")
	flag.Parse()

	cfg := config.New()
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		loaded, err := loadConfigFile(trimmed)
		if err != nil {
			log.Fatalf("load config %s: %v", trimmed, err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	appLog := logger.New(logger.LoggingConfig{
		Level: cfg.Logging.Level, Format: cfg.Logging.Format,
		Output: cfg.Logging.Output, FilePrefix: cfg.Logging.FilePrefix,
	})

	rootCtx := context.Background()
	dsnVal := resolveDSN(*dsn, cfg)

	var stores storage.Stores
	var db *sql.DB
	if dsnVal != "" {
		var err error
		db, err = database.Open(rootCtx, dsnVal)
		if err != nil {
			appLog.WithError(err).Fatal("connect to postgres")
		}
		configurePool(db, cfg)
		if *runMigrations {
			if err := migrations.Apply(db); err != nil {
				appLog.WithError(err).Fatal("apply migrations")
			}
		}
		store := postgres.New(db)
		stores = storage.Stores{
			Nodes: store, Bots: store, BotProfiles: store, Recovery: store,
			Credit: store, Tokens: store, Tenants: store, Snapshots: store, ServiceHealth: store,
		}
		defer db.Close()
	} else {
		appLog.Warn("no database DSN configured; running with in-memory storage")
		store := memory.New()
		stores = storage.Stores{
			Nodes: store, Bots: store, BotProfiles: store, Recovery: store,
			Credit: store, Tokens: store, Tenants: store, Snapshots: store, ServiceHealth: store,
		}
	}

	notifier := notify.New(appLog, *webhookURL)
	placementEngine := placement.New(stores.Nodes)
	registry := commandbus.NewRegistry()
	bus := commandbus.New(registry, appLog)
	drainer := orchestrator.NewDrainer(stores.Nodes, stores.Bots, placementEngine, bus, notifier, appLog)
	recoverer := orchestrator.NewRecoverer(stores.Nodes, stores.Bots, stores.BotProfiles, stores.Recovery, placementEngine, bus, notifier, appLog)
	creditLedger := ledger.New(stores.Credit)
	billingGate := billing.New(stores.Bots)
	tokens := registration.NewTokenService(stores.Tokens)
	registrar := registration.New(stores.Nodes, stores.Recovery, nil, nil)

	hbWatchdog := heartbeat.New(stores.Nodes, appLog, cfg.Heartbeat.Interval, cfg.Heartbeat.DeadThreshold,
		makeDeadNodeHandler(stores, recoverer, appLog))
	infWatchdog := inference.New(stores.Nodes, stores.ServiceHealth, nil, notifier, appLog,
		inference.WithPorts(cfg.Inference.Ports),
		inference.WithEndpointTimeout(cfg.Inference.EndpointTimeout),
		inference.WithFailedTimeout(cfg.Inference.FailedTimeout),
		inference.WithTickInterval(cfg.Inference.TickInterval),
		inference.WithRebootThreshold(cfg.Inference.RebootThreshold))

	watchdogCtx, stopWatchdogs := context.WithCancel(rootCtx)
	go hbWatchdog.Run(watchdogCtx)
	go infWatchdog.Run(watchdogCtx)
	go runBillingSweep(watchdogCtx, billingGate, appLog, cfg.Billing.GracePeriod)

	adminTokens := make(map[string]bool, len(cfg.Auth.Tokens))
	for _, t := range cfg.Auth.Tokens {
		adminTokens[t] = true
	}

	apiServer := &httpapi.Server{
		Nodes: stores.Nodes, Bots: stores.Bots, Tokens: tokens, Registrar: registrar,
		Ledger: creditLedger, Billing: billingGate, Drainer: drainer, Recoverer: recoverer,
		Registry: registry, Bus: bus, AdminTokens: adminTokens, Log: appLog,
	}

	listenAddr := determineAddr(*addr, cfg)
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           apiServer.NewRouter(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		appLog.WithField("addr", listenAddr).Info("coordinator listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.WithError(err).Fatal("http server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	appLog.Info("shutting down")

	hbWatchdog.Stop()
	infWatchdog.Stop()
	stopWatchdogs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Error("http server shutdown")
	}
	appLog.Info("coordinator stopped")
}

// makeDeadNodeHandler closes over the fleet's collaborators to build the
// heartbeat watchdog's onDead callback: look up the dead node's tenants,
// oldest first, and hand them to the recovery orchestrator.
func makeDeadNodeHandler(stores storage.Stores, recoverer *orchestrator.Recoverer, log *logger.Logger) heartbeat.DeadNodeHandler {
	return func(ctx context.Context, nodeID string) {
		bots, err := stores.Bots.ListBots(ctx, storage.BotFilter{NodeID: nodeID})
		if err != nil {
			log.WithError(err).WithField("node_id", nodeID).Error("list bots for dead node failed")
			return
		}
		assignments := make([]orchestrator.TenantAssignment, 0, len(bots))
		for _, b := range bots {
			if b.BillingState == domain.BillingDestroyed {
				continue
			}
			assignments = append(assignments, orchestrator.TenantAssignment{
				Tenant: b.TenantID, BotID: b.ID, BotName: b.Name, EstimatedMb: b.EstimatedMb,
			})
		}
		if _, err := recoverer.TriggerRecovery(ctx, nodeID, domain.TriggerHeartbeatTimeout, assignments); err != nil {
			log.WithError(err).WithField("node_id", nodeID).Error("trigger recovery failed")
		}
	}
}

// runBillingSweep periodically destroys bots whose suspension grace period
// has elapsed. The sweep runs every gracePeriod/24, and never more often
// than once an hour, so a destroy can lag its deadline by up to one such
// interval (30 hours with a 30-day grace period).
func runBillingSweep(ctx context.Context, gate *billing.Gate, log *logger.Logger, gracePeriod time.Duration) {
	interval := gracePeriod / 24
	if interval < time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			destroyed, err := gate.DestroyExpiredBots(ctx)
			if err != nil {
				log.WithError(err).Error("billing sweep failed")
				continue
			}
			if len(destroyed) > 0 {
				log.WithField("count", len(destroyed)).Info("billing sweep destroyed expired bots")
			}
		}
	}
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if addr := strings.TrimSpace(flagAddr); addr != "" {
		return addr
	}
	host := strings.TrimSpace(cfg.Server.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		return ":8080"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Server.Port)
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}

func loadConfigFile(path string) (*config.Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return config.LoadFile(path)
	case ".json":
		return config.LoadConfig(path)
	default:
		if cfg, err := config.LoadFile(path); err == nil {
			return cfg, nil
		}
		return config.LoadConfig(path)
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}
