package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/salesdesk/crm-management/internal"
	"github.com/salesdesk/crm-management/internal/auth"
	authpostgres "github.com/salesdesk/crm-management/internal/auth/postgres"
	tokenmodel "github.com/salesdesk/crm-management/internal/core/datamodel/token"
	"github.com/salesdesk/crm-management/internal/core/events"
	"github.com/salesdesk/crm-management/internal/obs"
	"github.com/salesdesk/crm-management/internal/permission"
	"github.com/salesdesk/crm-management/internal/transport/rest"
	"github.com/salesdesk/crm-management/internal/user"
	"github.com/salesdesk/crm-management/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

// Dependencies is the fully constructed object graph. Everything is built
// once by initializeDependencies and handed to the server; no component
// initializes itself lazily behind a global.
type Dependencies struct {
	Config      *internal.Config
	DB          *sqlx.DB
	GormDB      *gorm.DB
	Cache       *redis.Client
	Router      *chi.Mux
	EventBus    *events.EventBus
	Repository  *authpostgres.Repository
	AuthService *auth.Service
	Gate        *auth.Gate
	AuthHandler *auth.Handler
	UserHandler *user.Handler
	Permissions *permission.Engine
	Resolver    *permission.Resolver
	Logger      *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if deps.Cache != nil {
			if err := deps.Cache.Close(); err != nil {
				deps.Logger.Error("redis close error", "error", err)
			}
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func setupRoutes(deps *Dependencies) {
	rest.RegisterAllRoutes(deps.Router, rest.RouterDeps{
		Config:      deps.Config,
		DB:          deps.DB.DB,
		Cache:       deps.Cache,
		Gate:        deps.Gate,
		AuthHandler: deps.AuthHandler,
		UserHandler: deps.UserHandler,
		Permissions: deps.Permissions,
		Logger:      deps.Logger,
	})
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(appEnv())
	lg := logger.L()

	if config.Observability.Metrics.Enabled {
		obs.Init()
	}

	db, gormDB, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// The refresh-token table self-heals at startup so a missing table is
	// an inconvenience, not an outage. The users table stays under goose.
	if err := healRefreshTokenTable(gormDB, lg); err != nil {
		return nil, fmt.Errorf("failed to ensure refresh token table: %w", err)
	}

	var cache *redis.Client
	if config.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
	}

	eventBus := events.NewEventBus(lg)
	repo := authpostgres.NewRepository(gormDB, lg)

	resolver := permission.NewResolver(repo, cache, config.Redis.ReportsCacheTTL, lg)
	eventBus.Subscribe(events.EventTypeUserUpdated, resolver.HandleUserEvent)
	eventBus.Subscribe(events.EventTypeUserDeleted, resolver.HandleUserEvent)

	engine := permission.NewEngine(permission.DefaultMatrix(), resolver, lg)

	issuer := auth.NewTokenIssuer(config.Security, repo, lg)
	authService := auth.NewService(repo, issuer, eventBus, lg, config.Security)
	gate := auth.NewGate(authService, config.Security.FailOpenOnStoreError, lg)
	userService := user.NewService(repo, resolver, engine, authService, eventBus, lg, config.Security)

	return &Dependencies{
		Config:      config,
		DB:          db,
		GormDB:      gormDB,
		Cache:       cache,
		Router:      chi.NewRouter(),
		EventBus:    eventBus,
		Repository:  repo,
		AuthService: authService,
		Gate:        gate,
		AuthHandler: auth.NewHandler(authService, appEnv() == "production"),
		UserHandler: user.NewHandler(userService),
		Permissions: engine,
		Resolver:    resolver,
		Logger:      lg,
	}, nil
}

// initDB opens the connection pool through the pgx stdlib driver and layers
// a GORM session over the same pool for the repositories.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, *gorm.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: dbConn.DB}), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		_ = dbConn.Close()
		return nil, nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	return dbConn, gormDB, nil
}

func healRefreshTokenTable(gormDB *gorm.DB, lg *slog.Logger) error {
	migrator := gormDB.Migrator()
	if migrator.HasTable(&tokenmodel.RefreshToken{}) {
		return nil
	}
	lg.Warn("refresh token table missing, creating it")
	return migrator.CreateTable(&tokenmodel.RefreshToken{})
}

func appEnv() string {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env
	}
	return "development"
}
