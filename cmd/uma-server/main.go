// Package main provides the entry point for the UMA authorization server
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uma-engine/go-core/internal/api"
	"github.com/uma-engine/go-core/internal/audit"
	"github.com/uma-engine/go-core/internal/cache"
	"github.com/uma-engine/go-core/internal/engine"
	"github.com/uma-engine/go-core/internal/identity"
	"github.com/uma-engine/go-core/internal/metrics"
	"github.com/uma-engine/go-core/internal/permission"
	"github.com/uma-engine/go-core/internal/policy"
	"github.com/uma-engine/go-core/internal/resource"
	"github.com/uma-engine/go-core/internal/ticket"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		httpPort        = flag.Int("http-port", 8080, "HTTP server port")
		serverID        = flag.String("server-id", "uma-server", "Resource server identifier")
		realm           = flag.String("realm", "master", "Realm name for evaluation contexts")
		policyDir       = flag.String("policy-dir", "", "Directory to load policies from")
		resourceFile    = flag.String("resource-file", "", "YAML file with scope and resource definitions")
		usersFile       = flag.String("users-file", "", "YAML file with user identities")
		watchPolicies   = flag.Bool("watch-policies", false, "Reload policies on file change")
		cacheEnabled    = flag.Bool("cache", true, "Enable decision cache")
		cacheSize       = flag.Int("cache-size", 100000, "Maximum cache entries")
		cacheTTL        = flag.Duration("cache-ttl", 5*time.Minute, "Cache TTL")
		redisAddr       = flag.String("redis-addr", "", "Redis address for a shared decision cache (empty = in-process LRU)")
		workers         = flag.Int("workers", 16, "Number of parallel evaluation workers")
		dbDSN           = flag.String("db-dsn", "", "PostgreSQL DSN for ticket persistence (empty = in-memory)")
		auditType       = flag.String("audit", "stdout", "Audit output (stdout, file, off)")
		auditFile       = flag.String("audit-file", "audit/uma-audit.log", "Audit log path for file output")
		logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat       = flag.String("log-format", "json", "Log format (json, console)")
		showVersion     = flag.Bool("version", false, "Show version information")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("uma-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	logger, err := initLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting UMA authorization server",
		zap.String("version", Version),
		zap.String("server_id", *serverID),
		zap.Int("http_port", *httpPort),
	)

	prom := metrics.NewPrometheusMetrics("uma")

	// Policy store, loader, and optional hot reload
	policyStore := policy.NewMemoryStore()
	loader, err := policy.NewLoader(logger)
	if err != nil {
		logger.Fatal("Failed to create policy loader", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *policyDir != "" {
		loaded, err := loader.LoadIntoStore(*policyDir, policyStore)
		if err != nil {
			logger.Fatal("Failed to load policies", zap.Error(err))
		}
		logger.Info("Policies loaded", zap.Int("count", loaded), zap.String("dir", *policyDir))

		if *watchPolicies {
			watcher, err := policy.NewWatcher(*policyDir, policyStore, loader, logger)
			if err != nil {
				logger.Fatal("Failed to create policy watcher", zap.Error(err))
			}
			go func() {
				if err := watcher.Watch(ctx); err != nil && err != context.Canceled {
					logger.Error("Policy watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	// Evaluation engine
	engConfig := engine.Config{
		CacheEnabled:    *cacheEnabled,
		CacheSize:       *cacheSize,
		CacheTTL:        *cacheTTL,
		ParallelWorkers: *workers,
		Metrics:         prom,
	}
	if *redisAddr != "" {
		redisCfg := cache.DefaultRedisConfig()
		redisCfg.Addr = *redisAddr
		redisCfg.TTL = *cacheTTL
		redisCache, err := cache.NewRedisCache(redisCfg)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		engConfig.Cache = redisCache
		logger.Info("Using Redis decision cache", zap.String("addr", *redisAddr))
	}

	eng, err := engine.New(engConfig, policyStore, logger)
	if err != nil {
		logger.Fatal("Failed to create engine", zap.Error(err))
	}
	defer eng.Shutdown(context.Background())

	logger.Info("Decision engine initialized",
		zap.Bool("cache_enabled", *cacheEnabled),
		zap.Int("workers", *workers),
	)

	// Stores and directory
	resourceStore := resource.NewMemoryStore()
	if *resourceFile != "" {
		loaded, err := resource.LoadDefinitions(*resourceFile, *serverID, resourceStore, logger)
		if err != nil {
			logger.Fatal("Failed to load resource definitions", zap.Error(err))
		}
		logger.Info("Resource definitions loaded", zap.Int("count", loaded), zap.String("file", *resourceFile))
	}

	directory := identity.NewMemoryDirectory()
	if *usersFile != "" {
		loaded, err := identity.LoadUsers(*usersFile, directory)
		if err != nil {
			logger.Fatal("Failed to load users", zap.Error(err))
		}
		logger.Info("Users loaded", zap.Int("count", loaded), zap.String("file", *usersFile))
	}

	var ticketStore ticket.Store
	if *dbDSN != "" {
		db, err := sql.Open("postgres", *dbDSN)
		if err != nil {
			logger.Fatal("Failed to open database", zap.Error(err))
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatal("Failed to reach database", zap.Error(err))
		}
		if err := ticket.Migrate(db); err != nil {
			logger.Fatal("Failed to migrate ticket schema", zap.Error(err))
		}
		ticketStore = ticket.NewPostgresStore(db)
		logger.Info("Using PostgreSQL ticket store")
	} else {
		ticketStore = ticket.NewMemoryStore()
		logger.Info("Using in-memory ticket store")
	}

	// Audit trail
	auditCfg := audit.DefaultConfig()
	switch *auditType {
	case "off":
		auditCfg.Enabled = false
	case "file":
		auditCfg.Type = "file"
		auditCfg.FilePath = *auditFile
	default:
		auditCfg.Type = "stdout"
	}
	auditLogger, err := audit.NewLogger(&auditCfg)
	if err != nil {
		logger.Fatal("Failed to create audit logger", zap.Error(err))
	}
	defer auditLogger.Close()

	// Request pipeline
	authorizer := permission.NewAuthorizer(eng, auditLogger, logger)
	ticketManager := ticket.NewManager(*serverID, ticketStore, resourceStore, directory, prom, auditLogger, logger)
	builder := identity.NewContextBuilder(directory, identity.StaticAttributes{}, nil, *realm)

	apiCfg := api.DefaultConfig()
	apiCfg.Port = *httpPort
	srv, err := api.New(apiCfg, api.Deps{
		Authorizer: authorizer,
		Tickets:    ticketManager,
		Resources:  resourceStore,
		Directory:  directory,
		Builder:    builder,
		Metrics:    prom,
		ServerID:   *serverID,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create API server", zap.Error(err))
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *gracefulTimeout)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("Shutdown error", zap.Error(err))
		}
		if err := auditLogger.Flush(); err != nil {
			logger.Warn("Audit flush failed", zap.Error(err))
		}
	}

	logger.Info("Server stopped successfully")
}

// initLogger initializes the zap logger
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}
