package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/TrustLayer-Labs/credentials-api/api"
	"github.com/TrustLayer-Labs/credentials-api/database"
	"github.com/TrustLayer-Labs/credentials-api/external"
	"github.com/TrustLayer-Labs/credentials-api/metrics"
	"github.com/TrustLayer-Labs/credentials-api/services"
	"github.com/TrustLayer-Labs/credentials-api/tasks"
	"github.com/TrustLayer-Labs/credentials-api/util"
	"github.com/TrustLayer-Labs/credentials-api/web"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"

	"go.uber.org/zap"
)

const (
	explorerTimeout = 30 * time.Second
	dialTimeout     = 15 * time.Second
)

func waitForTermination() {
	// Trap termination signals
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	// Block until a signal is received.
	<-c

	// Allow subsequent termination signals to quickly shut down by removing the trap.
	signal.Reset()
	close(c)
}

var logger *zap.Logger

// Logger initialization.
func initLogger(cfg config) error {
	var zcfg zap.Config
	var err error

	if cfg.Debug {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(cfg.logLevel())

	logger, err = zcfg.Build()
	return err
}

func main() {
	var cfg config
	var err error

	// Parse command line arguments.
	if cfg, err = parseArguments(); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize the logger.
	if err := initLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	if _, err := metrics.Init("trustlayer"); err != nil {
		logger.Fatal("Unable to initialize metrics", zap.Error(err))
	}

	// The audit journal is optional. Without it the service keeps no state.
	var db *sql.DB
	if cfg.DBPath != "" {
		db, err = database.Open(cfg.DBPath)
		if err != nil {
			logger.Fatal("Unable to open the database connection", zap.Error(err))
		}
		defer db.Close()
	}

	aleo := external.NewAleoClient(cfg.Aleo.Endpoint, cfg.Aleo.Network, cfg.Aleo.Program,
		&http.Client{Timeout: explorerTimeout})

	prover := external.NewSnarkOSProver(external.SnarkOSConfig{
		Binary:        cfg.Aleo.SnarkOSBin,
		Program:       cfg.Aleo.Program,
		PrivateKey:    cfg.Aleo.PrivateKey,
		Endpoint:      cfg.Aleo.Endpoint,
		Network:       cfg.Aleo.Network,
		BroadcastURL:  aleo.BroadcastURL(),
		NetworkID:     cfg.Aleo.NetworkID,
		MaxConcurrent: cfg.Aleo.MaxConcurrentProofs,
	}, logger)
	if cfg.Aleo.PrivateKey == "" {
		logger.Warn("ALEO_PRIVATE_KEY not set, Aleo admin writes are disabled")
	}

	// Clock
	clock := clockwork.NewRealClock()

	svcCfg := &services.ServiceConfig{
		DB:                  db,
		Aleo:                aleo,
		Prover:              prover,
		CanSign:             cfg.Aleo.PrivateKey != "",
		Program:             cfg.Aleo.Program,
		ViewKey:             cfg.Aleo.ViewKey,
		DefaultExpiryBlocks: cfg.Eth.DefaultExpiryBlocks,
		Logger:              logger,
		Clock:               clock,
	}

	// The companion chain is optional; /api/eth/* answers 503 without it.
	var hook *external.HookClient
	if cfg.ethEnabled() {
		wallet, err := util.LoadWallet(cfg.Eth.RelayerKey)
		if err != nil {
			logger.Fatal("Invalid relayer private key", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		hook, err = external.DialHookClient(ctx, external.HookConfig{
			RPCURL:      cfg.Eth.RPCURL,
			HookAddress: common.HexToAddress(cfg.Eth.HookAddress),
			RelayerKey:  wallet.Key,
			ChainID:     cfg.Eth.ChainID,
		}, logger)
		cancel()
		if err != nil {
			logger.Fatal("Unable to connect to the hook contract", zap.Error(err))
		}
		defer hook.Close()
		svcCfg.Hook = hook
	} else {
		logger.Warn("Ethereum not configured, set ETH_RPC, RELAYER_PRIVATE_KEY and HOOK_ADDRESS to enable registration")
	}

	// Services contain the business logic and are used by the API handlers.
	svc := services.NewService(svcCfg)
	if err := svc.Init(); err != nil {
		logger.Fatal("Unable to initialize the service layer", zap.Error(err))
	}

	// Background task reporting upstream reachability on /health.
	var probe *tasks.ProbeUpstreamsTask
	if hook != nil {
		probe = tasks.NewProbeUpstreamsTask(aleo, hook, clock, logger)
	} else {
		probe = tasks.NewProbeUpstreamsTask(aleo, nil, clock, logger)
	}
	go probe.Run()

	routerCfg := api.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.AdminJWTSecret,
		Upstreams:      probe,
	}
	if cfg.StaticDir != "" {
		static, err := web.NewStaticHandler(cfg.StaticDir, logger)
		if err != nil {
			logger.Fatal("Unable to serve the panel bundle", zap.Error(err))
		}
		routerCfg.Static = static
	}

	// Create the API router.
	router := api.NewAPIRouter(svc, routerCfg, logger)

	// Listen on the provided address. This listener will be used by the HTTP server.
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to listen on provided address %s\n%v\n", cfg.ListenAddr, err)
		os.Exit(1)
	}

	// Spin up the HTTP server on a different goroutine, since it blocks.
	server := http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	var serverWaitGroup sync.WaitGroup
	serverWaitGroup.Add(1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("url", cfg.ListenAddr),
			zap.String("program", cfg.Aleo.Program),
			zap.Bool("ethEnabled", svc.EthEnabled()),
			zap.Bool("journal", svc.JournalEnabled()))
		if err := server.Serve(listener); err != nil {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
		serverWaitGroup.Done()
	}()

	waitForTermination()

	// Shut down gracefully. Prover runs can take minutes, so in-flight
	// requests get a generous window.
	logger.Info("Received termination signal, shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	_ = server.Shutdown(ctx)
	cancel()
	listener.Close()

	// Wait for the listener/server to exit
	serverWaitGroup.Wait()

	// Shut down the service layer
	svc.Deinit()

	// Stop the background tasks
	if err = probe.Stop(); err != nil {
		logger.Error("Error stopping background tasks", zap.Error(err))
	}

	logger.Info("Shutdown complete")

	_ = logger.Sync()
}
