package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"screenscout/internal/audit"
	"screenscout/internal/config"
	"screenscout/internal/device"
	"screenscout/internal/explore"
	"screenscout/internal/knowledge"
	mcpserver "screenscout/internal/mcp"
	"screenscout/internal/ui"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the ScreenScout config file")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	engine, err := knowledge.NewEngine(cfg.Knowledge, logger)
	if err != nil {
		logger.Fatal("failed to initialize knowledge engine", zap.Error(err))
	}
	oracle := knowledge.NewOracle(engine, logger)

	sink, err := audit.NewSink(cfg.Audit, logger)
	if err != nil {
		logger.Fatal("failed to initialize audit sink", zap.Error(err))
	}
	defer sink.Close()

	driver := device.NewRodDriver(cfg.Device, logger)
	if err := driver.Connect(ctx); err != nil {
		logger.Fatal("failed to connect to device", zap.Error(err))
	}
	defer driver.Close()

	geo := explore.Geometry{
		ScreenWidth:     cfg.Device.GetViewportWidth(),
		ScreenHeight:    cfg.Device.GetViewportHeight(),
		StatusBarHeight: cfg.Device.StatusBarHeight,
		NavBarHeight:    cfg.Device.NavBarHeight,
	}

	filter := explore.NewFilter(cfg.Explorer, geo, oracle, logger)
	builder := explore.NewBuilder(cfg.Explorer, filter, logger)
	queue := explore.NewWorkQueue()
	navigator := explore.NewNavigator(cfg.Explorer, logger)
	recovery := explore.NewEscalator(cfg.Explorer, geo, logger)
	arbiter := explore.NewArbiter(cfg.Explorer, oracle, logger)
	progress := explore.NewProgressHolder()

	newSession := func() *explore.Session {
		session := explore.NewSession(cfg.Explorer, cfg.Device.StartURL, explore.SessionDeps{
			Provider: driver,
			Gestures: driver,
			Builder:  builder,
			Queue:    queue,
			Nav:      navigator,
			Recovery: recovery,
			Arbiter:  arbiter,
			Learner:  oracle,
			Auditor:  sink,
			Progress: progress,
			Logger:   logger,
		})
		if err := sink.StartSession(session.ID); err != nil {
			logger.Warn("failed to start audit trace", zap.Error(err))
		}
		return session
	}
	supervisor := explore.NewSupervisor(newSession, logger)

	// Every physical click, bot or user, funnels through the arbiter.
	err = driver.StartClickStream(ctx, func(bounds ui.Bounds) {
		if session, ok := supervisor.Session(); ok {
			session.HandleClick(bounds)
			return
		}
		arbiter.OnClickDetected(bounds)
	})
	if err != nil {
		logger.Fatal("failed to start click stream", zap.Error(err))
	}

	server, err := mcpserver.NewServer(cfg, mcpserver.Deps{
		Supervisor: supervisor,
		Progress:   progress,
		Arbiter:    arbiter,
		Recovery:   recovery,
		Navigator:  navigator,
		Audit:      sink,
		Engine:     engine,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize MCP server", zap.Error(err))
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		logger.Info("starting ScreenScout MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		logger.Info("starting ScreenScout MCP stdio server")
		startErr = server.Start(ctx)
	}

	supervisor.Stop()

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		logger.Fatal("server exited with error", zap.Error(startErr))
	}
}

// buildLogger routes logs to the configured file in stdio mode; stdout and
// stderr carry the MCP protocol and must stay clean.
func buildLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.MCP.SSEPort == 0 && cfg.Server.LogFile != "" {
		zcfg.OutputPaths = []string{cfg.Server.LogFile}
		zcfg.ErrorOutputPaths = []string{cfg.Server.LogFile}
	}
	return zcfg.Build()
}
