package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/local-gateway/internal/admission"
	"github.com/tributary-ai/local-gateway/internal/config"
	"github.com/tributary-ai/local-gateway/internal/health"
	"github.com/tributary-ai/local-gateway/internal/images"
	"github.com/tributary-ai/local-gateway/internal/metrics"
	"github.com/tributary-ai/local-gateway/internal/registry"
	"github.com/tributary-ai/local-gateway/internal/routing"
	"github.com/tributary-ai/local-gateway/internal/security"
	"github.com/tributary-ai/local-gateway/internal/server"
	"github.com/tributary-ai/local-gateway/internal/toolbus"
	"github.com/tributary-ai/local-gateway/internal/upstream"
)

// Application wires the gateway's components together (spec §6.3),
// replacing the teacher's Application/registerProviders shape (which
// bound one routing.Router to one hard-coded set of SDK-backed
// providers) with a declarative-registry-driven wiring: one Registry,
// one Router, one admission Controller, one health Checker, and one
// upstream Pool shared by every backend the registry names.
type Application struct {
	cfg    *config.Config
	logger *logrus.Logger
	health *health.Checker
	tools  *toolbus.Logger
	srv    *server.Server
}

// NewApplication loads configuration and builds every component the
// server depends on.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load backend registry: %w", err)
	}

	router := routing.New(reg, routing.RouteTable(reg.RouteTable()))

	limits := make(map[string]int)
	probers := make([]health.Prober, 0, len(reg.Iter()))
	for _, b := range reg.Iter() {
		for routeKind, limit := range b.ConcurrencyLimits {
			limits[b.Name+"."+routeKind] = limit
		}
		probers = append(probers, health.Prober{
			Name:         b.Name,
			LivenessURL:  b.BaseURL + b.Health.Liveness,
			ReadinessURL: b.BaseURL + b.Health.Readiness,
		})
	}
	admissionCtl := admission.New(limits, logger)
	healthChecker := health.New(probers, cfg.Health.Interval, cfg.Health.Timeout, logger)

	pool := upstream.NewPool(0, cfg.Backend.ToUpstreamTLS())

	imageStore, err := images.NewStore(cfg.UI.ImageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open image store: %w", err)
	}

	toolRegistry := buildToolRegistry()
	toolLogger, err := toolbus.NewLogger(toolLogConfig(cfg.Tools), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start tool invocation logger: %w", err)
	}

	promReg := prometheus.NewRegistry()
	gwMetrics := metrics.New(promReg)

	auth := security.NewAuthenticator(cfg.Auth.BearerToken, logger)
	uiAllow, err := security.NewAllowList(cfg.UI.IPAllowlist, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build UI IP allowlist: %w", err)
	}

	srv := server.New(
		server.Config{
			Port:           cfg.Server.Port,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
			CORSOrigins:    []string{"*"},
			OpenAPIPath:    docsPathIfPresent("docs/openapi.yaml"),
		},
		server.Deps{
			Registry:     reg,
			Router:       router,
			Admission:    admissionCtl,
			Health:       healthChecker,
			Pool:         pool,
			Tools:        toolRegistry,
			ToolLogger:   toolLogger,
			ImageStore:   imageStore,
			Metrics:      gwMetrics,
			PromRegistry: promReg,
			Auth:         auth,
			UIAllow:      uiAllow,
		},
		logger,
	)

	return &Application{cfg: cfg, logger: logger, health: healthChecker, tools: toolLogger, srv: srv}, nil
}

// docsPathIfPresent returns path if it exists on disk, or "" if not,
// so a deployment without a docs/openapi.yaml simply gets no /docs
// routes instead of a startup failure.
func docsPathIfPresent(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func toolLogConfig(cfg config.ToolsConfig) toolbus.LogConfig {
	lc := toolbus.LogConfig{BufferSize: 256}
	if cfg.LogMode == "ndjson" || cfg.LogMode == "both" {
		lc.NDJSONPath = cfg.LogPath
	}
	if cfg.LogMode == "per_file" || cfg.LogMode == "both" {
		lc.PerInvocationDir = cfg.LogDir
	}
	return lc
}

// buildToolRegistry registers the gateway's built-in tools. The spec
// names the bus's mechanics (§4.8) but no specific tool catalog, so
// this starts empty: operators add tools by registering Handlers in
// this function at startup, not by editing the bus itself.
func buildToolRegistry() *toolbus.Registry {
	return toolbus.NewRegistry()
}

// Run starts the HTTP server, the background health checker, and
// blocks until a shutdown signal arrives or the server fails.
func (app *Application) Run() error {
	app.logger.Info("starting local AI gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.health.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("port", app.cfg.Server.Port).Info("HTTP server starting")
		if err := app.srv.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	app.logger.Info("starting graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.srv.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	app.health.Stop()
	app.tools.Stop()

	app.logger.Info("graceful shutdown completed")
	return nil
}

func setupLogger(logger *logrus.Logger, cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	switch cfg.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		logger.SetOutput(file)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_PORT            Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_BEARER_TOKEN    Shared bearer secret for /v1 (required)\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_REGISTRY_PATH   Path to the backend registry document\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_LOG_LEVEL       Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_LOG_FORMAT      Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  IMAGES_BACKEND          Images backend (mock,http_a1111,http_openai_images)\n")
	fmt.Fprintf(os.Stderr, "  UI_IP_ALLOWLIST         Comma-separated CIDRs allowed to reach /ui\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/gateway.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  GATEWAY_BEARER_TOKEN=secret %s\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}
	if *version {
		fmt.Printf("Local AI Gateway v1.0.0\n")
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create gateway: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway error: %v\n", err)
		os.Exit(1)
	}
}
