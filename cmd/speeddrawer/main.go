// Package main provides the speeddrawer server binary: the WebSocket
// session layer plus the admin health endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/speeddrawer/server/internal/admin"
	"github.com/speeddrawer/server/internal/config"
	"github.com/speeddrawer/server/internal/frontend/websocket"
	"github.com/speeddrawer/server/internal/gameserver"
	"github.com/speeddrawer/server/internal/heartbeat"
	"github.com/speeddrawer/server/internal/observability"
	"github.com/speeddrawer/server/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty uses defaults and SPEEDDRAWER_* environment variables")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting speeddrawer server",
		zap.String("ws_addr", cfg.WebSocket.Addr()),
		zap.String("ws_path", cfg.WebSocket.Path),
		zap.Duration("heartbeat", cfg.Heartbeat.Interval),
	)

	hub := gameserver.NewHub(gameserver.OptionsFromConfig(cfg), heartbeat.WallClock(), gameserver.ShortID, logger)
	acceptor := websocket.NewAcceptor(cfg.WebSocket, hub, logger)

	lifecycle := server.NewLifecycle(cfg.Server.ShutdownTimeout, logger)
	lifecycle.Add("hub", server.NewContextService(hub.Run))
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	if cfg.Admin.Enabled {
		adminSrv := admin.NewServer(cfg.Admin, logger)
		adminSrv.Watch(hub.Done())
		lifecycle.Add("admin", &server.FuncService{
			StartFn: adminSrv.ListenAndServe,
			StopFn:  adminSrv.Stop,
		})
	}

	logger.Info("speeddrawer server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
