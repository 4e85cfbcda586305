package main

import (
	"database/sql"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/MarconiCalvo/NetworksProject/internal/config"
	"github.com/MarconiCalvo/NetworksProject/internal/directory"
	"github.com/MarconiCalvo/NetworksProject/internal/events"
	"github.com/MarconiCalvo/NetworksProject/internal/handler"
	"github.com/MarconiCalvo/NetworksProject/internal/ledger"
	"github.com/MarconiCalvo/NetworksProject/internal/logging"
	"github.com/MarconiCalvo/NetworksProject/internal/metrics"
	"github.com/MarconiCalvo/NetworksProject/internal/middleware"
	"github.com/MarconiCalvo/NetworksProject/internal/peer"
	"github.com/MarconiCalvo/NetworksProject/internal/pullfunds"
	"github.com/MarconiCalvo/NetworksProject/internal/redisclient"
	"github.com/MarconiCalvo/NetworksProject/internal/routing"
	"github.com/MarconiCalvo/NetworksProject/internal/signature"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Local ledger database
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open ledger database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("failed to ping ledger database", zap.Error(err))
	}

	// National (BCCR) registry database
	bccr, err := sql.Open("postgres", cfg.BCCRDatabaseURL)
	if err != nil {
		logger.Fatal("failed to open national registry database", zap.Error(err))
	}
	defer bccr.Close()
	if err := bccr.Ping(); err != nil {
		logger.Fatal("failed to ping national registry database", zap.Error(err))
	}

	// Redis: directory cache + event stream
	redis, err := redisclient.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()
	publisher := events.NewPublisher(redis.Client)

	// Peer bank registry
	peerBanks, err := config.LoadPeerBanks(cfg.PeerBanksFile)
	if err != nil {
		logger.Fatal("failed to load peer bank registry", zap.Error(err))
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	signer := signature.NewSigner(cfg.HMACSecret)
	store := ledger.NewStore(db)
	resolver := directory.NewResolver(db, bccr, redis.Client, logger.Named("directory"))
	transport := peer.NewTransport(peerBanks, cfg.PeerTimeout, logger.Named("peer"), m)
	engine := routing.NewEngine(cfg.LocalBankCode, store, resolver, transport, publisher, m, logger.Named("routing"))
	pullSvc := pullfunds.NewService(signer, store, transport, publisher, logger.Named("pullfunds"))

	transferHandler := handler.NewTransferHandler(engine, signer, logger.Named("handler"))
	sinpeHandler := handler.NewSinpeHandler(engine, signer, resolver, cfg.LocalBankCode, logger.Named("handler"))
	pullHandler := handler.NewPullFundsHandler(pullSvc, logger.Named("handler"))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger.Named("http")))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"bank_code": cfg.LocalBankCode,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"services":  []string{"transfers", "sinpe", "pull-funds"},
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		// Peer-facing: gated by the payload HMAC, not by bearer tokens.
		api.POST("/receive-transfer", transferHandler.ReceiveTransfer)
		api.POST("/sinpe-movil-transfer", sinpeHandler.ReceiveSinpeMovil)
		api.POST("/pull-funds", pullHandler.Receive)
		api.GET("/validate/:phone", sinpeHandler.ValidatePhone)

		// Client-facing
		auth := api.Group("", middleware.NewAuthMiddleware(cfg.JWTSecret))
		auth.POST("/sinpe-movil", sinpeHandler.InitiateSinpe)
		auth.GET("/sinpe/user-link/:username", sinpeHandler.UserLink)
		auth.POST("/send-pull-funds", pullHandler.Send)
		auth.POST("/transactions/hmac", transferHandler.GenerateHMAC)
	}

	logger.Info("bank node starting",
		zap.String("port", cfg.Port),
		zap.String("bank_code", cfg.LocalBankCode),
		zap.Int("peer_banks", len(peerBanks)))
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
