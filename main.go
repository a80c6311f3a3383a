package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/auctionserver/broadcast"
	"github.com/wfunc/auctionserver/cache"
	"github.com/wfunc/auctionserver/config"
	"github.com/wfunc/auctionserver/handler"
	"github.com/wfunc/auctionserver/logger"
	"github.com/wfunc/auctionserver/monitor"
	"github.com/wfunc/auctionserver/persistence"
	"github.com/wfunc/auctionserver/room"
	gameserver_rpc "github.com/wfunc/auctionserver/rpc"
	"github.com/wfunc/auctionserver/server"
	"github.com/wfunc/auctionserver/services"
	"github.com/wfunc/auctionserver/session"
	"github.com/wfunc/auctionserver/timer"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Init(logger.Config{Level: "info"})
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Init(cfg.Log)
	defer logger.Sync()

	store, err := openStore(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()
	logger.Log.Infof("Player store ready (%s)", cfg.Database.Driver)

	var tokens services.TokenCache
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			logger.Log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		tokens = cache.NewTokenCache(rdb, cfg.Redis.TokenPrefix, cfg.Auth.TokenTTL)
		logger.Log.Infof("Token cache on %s", cfg.Redis.Addr)
	}
	auth := services.NewAuthService(store, tokens, cfg.Auth.AutoRegister)

	timers := timer.NewTimerManager(cfg.Timer.Resolution)
	defer timers.Stop()

	registry := room.NewRegistry(room.Settings{
		MaxMembers:  cfg.Auction.MaxMembers,
		InitialBid:  cfg.Auction.InitialBid,
		Duration:    cfg.Auction.Duration,
		StartOffset: cfg.Auction.StartOffset,
	}, timers, uint16(cfg.Auction.MaxRoomID))

	mon := monitor.NewMonitor("auction")
	sessions := session.NewManager()
	mines := services.NewMineGenerator(cfg.Auction.MineSize, time.Now().UnixNano())
	auctions := handler.NewAuctionHandler(registry, broadcast.NewSessionBroadcaster(sessions), mon, mines.Generate, cfg.Auction.DefaultVisible)

	rpcServer, err := gameserver_rpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	if err := rpcServer.Register(gameserver_rpc.NewAuctionService(registry)); err != nil {
		logger.Log.Fatalf("Failed to register RPC service: %v", err)
	}

	gameServer := server.NewGameServer(server.Options{
		HTTPAddress:       cfg.Server.HTTPAddress,
		MetricsAddress:    cfg.Server.MetricsAddress,
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		RateRPS:           cfg.RateLimit.RPS,
		RateBurst:         cfg.RateLimit.Burst,
	}, sessions, auth, mon, rpcServer)
	gameServer.RegisterPlugin(auctions)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Infof("Starting auction server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Run(ctx); err != nil {
		logger.Log.Errorf("Server stopped: %v", err)
	}
	logger.Log.Info("Auction server stopped")
}

func openStore(cfg config.DatabaseConfig) (persistence.PlayerStore, error) {
	pg := cfg.Postgres
	switch cfg.Driver {
	case "gorm":
		return persistence.NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "postgres":
		return persistence.NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	default:
		return persistence.NewMemoryStore(), nil
	}
}
