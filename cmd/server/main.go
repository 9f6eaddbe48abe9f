package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/shelfsight/planoview/internal/backend"
	"github.com/shelfsight/planoview/internal/backend/cache"
	"github.com/shelfsight/planoview/internal/backend/database"
	"github.com/shelfsight/planoview/internal/backend/export"
	"github.com/shelfsight/planoview/internal/backend/labelstudio"
	"github.com/shelfsight/planoview/internal/backend/storage"
	"github.com/shelfsight/planoview/internal/common"
	"github.com/shelfsight/planoview/internal/core"
	"github.com/shelfsight/planoview/internal/frontend"
)

func getConfigPath() string {
	// First check if config path is provided via environment variable
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}

	// Default to config.yaml in current working directory if present
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	path := filepath.Join(cwd, "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func main() {
	config, err := core.LoadConfig(getConfigPath())
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	configureLogging(config.LogLevel)

	coreService, err := buildCoreService(config)
	if err != nil {
		slog.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	server := defineServer()
	backend.NewAPIService(coreService).SetRoutes(server)
	frontend.NewFrontendService(config, coreService).SetRoutes(server)

	portString := fmt.Sprintf(":%d", config.Port)
	slog.Info("starting server", "app", config.AppName, "version", config.AppVersion, "port", config.Port)

	// Start HTTP server in a goroutine to allow graceful shutdown
	go func() {
		if err := server.Start(portString); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if err := coreService.Close(); err != nil {
		slog.Error("core service close error", "error", err)
	}
}

func configureLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func buildCoreService(config *core.Config) (*core.CoreService, error) {
	store, err := database.NewResultStore(config.Database.Type, config.Database.DSN(), config.Database.ResultTable)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to result store: %w", err)
	}

	awsCfg, err := loadAWSConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	objectStorage := storage.NewClient(awsCfg, config.S3.Bucket, config.S3.FolderPrefix, config.S3.Region)
	annotations := labelstudio.NewClient(
		config.LabelStudio.URL,
		config.LabelStudio.APIToken,
		config.S3.Bucket,
		config.S3.Region,
		labelstudio.AWSCredentials{
			AccessKeyID:     config.AWS.AccessKeyID,
			SecretAccessKey: config.AWS.SecretAccessKey,
		},
	)
	exporter := export.NewTrigger(awsCfg, config.LambdaFunctionName)
	resultCache := cache.New(config.Cache.Addr, config.Cache.Password, config.Cache.DB, config.Cache.TTL)

	return core.NewCoreService(config, store, objectStorage, annotations, exporter, resultCache), nil
}

func loadAWSConfig(config *core.Config) (aws.Config, error) {
	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.AWS.Region),
	}
	// Static keys take precedence; otherwise the default chain applies
	// (instance profile, env, shared config).
	if config.AWS.AccessKeyID != "" && config.AWS.SecretAccessKey != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AWS.AccessKeyID, config.AWS.SecretAccessKey, "")))
	}
	return awsconfig.LoadDefaultConfig(context.Background(), options...)
}

func defineServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Configure request logger to skip the health probe endpoint
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/probe"
		},
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogError:     true,
		LogRemoteIP:  true,
		LogRoutePath: true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"route", v.RoutePath,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
				slog.Error("request", attrs...)
			} else {
				slog.Info("request", attrs...)
			}
			return nil
		},
	}))

	e.Use(middleware.Recover())
	e.Pre(middleware.RemoveTrailingSlash())

	e.Validator = &common.GenericEchoValidator{}

	return e
}
