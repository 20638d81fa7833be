package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kukipiyo/PiyoXAssistant/internal/config"
	"github.com/kukipiyo/PiyoXAssistant/internal/constants"
	"github.com/kukipiyo/PiyoXAssistant/internal/database"
	"github.com/kukipiyo/PiyoXAssistant/internal/metrics"
	"github.com/kukipiyo/PiyoXAssistant/internal/pattern"
	"github.com/kukipiyo/PiyoXAssistant/internal/render"
	"github.com/kukipiyo/PiyoXAssistant/internal/schedule"
	"github.com/kukipiyo/PiyoXAssistant/internal/service"
	"github.com/kukipiyo/PiyoXAssistant/internal/tracing"
	"github.com/kukipiyo/PiyoXAssistant/pkg/finance"
	"github.com/kukipiyo/PiyoXAssistant/pkg/weather"
	"github.com/kukipiyo/PiyoXAssistant/pkg/xapi"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("PiyoXAssistant %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("Failed to load .env file: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting PiyoXAssistant")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := database.NewWithRetry(ctx, cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %q: %w", cfg.Scheduler.Timezone, err)
	}

	bearerToken := resolveCredential(ctx, db, database.CredentialBearerToken, "PIYO_X_BEARER_TOKEN", logger)
	weatherKey := resolveCredential(ctx, db, database.CredentialWeatherAPIKey, "PIYO_WEATHER_API_KEY", logger)
	financeKey := resolveCredential(ctx, db, database.CredentialFinanceAPIKey, "PIYO_FINANCE_API_KEY", logger)

	if bearerToken == "" {
		logger.Warn("No publisher bearer token configured, dispatch attempts will fail until one is set")
	}

	providerTimeout := constants.DefaultHTTPTimeoutSec * time.Second
	publisher := xapi.NewClient(cfg.Publisher.APIBaseURL, bearerToken, cfg.Publisher.Timeout)
	weatherClient := weather.NewClient(cfg.Weather.APIBaseURL, weatherKey, cfg.Weather.City, providerTimeout)
	financeClient := finance.NewClient(cfg.Finance.APIBaseURL, financeKey, providerTimeout)

	renderer := render.NewRenderer(weatherClient, financeClient, logger, loc)
	calc := schedule.NewCalculator(pattern.NewResolver(logger), logger, loc)
	dispatcher := service.NewDispatcher(publisher, renderer, logger, metrics.Default())

	svc := service.NewPostService(db, calc, dispatcher, renderer, cfg.Scheduler, logger, metrics.Default())
	if err := svc.Load(ctx); err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	defer svc.Stop()

	scheduler := service.NewScheduler(svc, time.Duration(cfg.Scheduler.TickIntervalSec)*time.Second, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	server := NewServer(svc, scheduler, renderer, db, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownSec*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// resolveCredential prefers the stored credential and falls back to the
// environment. An env-provided value is persisted so credential status
// reporting stays accurate.
func resolveCredential(ctx context.Context, db *database.Database, name, envVar string, logger *logrus.Logger) string {
	value, err := db.GetCredential(ctx, name)
	if err != nil {
		logger.WithField("name", name).Warnf("Failed to read credential: %v", err)
	}
	if value != "" {
		return value
	}

	value = os.Getenv(envVar)
	if value == "" {
		return ""
	}
	if err := db.SetCredential(ctx, name, value); err != nil {
		logger.WithField("name", name).Warnf("Failed to persist credential from environment: %v", err)
	}
	return value
}
