package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/solwerk/tradecore/internal/api"
	"github.com/solwerk/tradecore/internal/auth"
	"github.com/solwerk/tradecore/internal/config"
	"github.com/solwerk/tradecore/internal/db"
	"github.com/solwerk/tradecore/internal/engine"
	"github.com/solwerk/tradecore/internal/portfolio"
	"github.com/solwerk/tradecore/internal/risk"
	"github.com/solwerk/tradecore/internal/venue"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tradecore",
		Short: "Risk-gated order execution engine for DEX swap trading",
		Run:   runServer,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) {
	// Local overrides from .env, ignored when absent
	_ = godotenv.Load()

	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close(ctx)

	venueClient := venue.NewClient(cfg.Venue.BaseURL, cfg.Venue.Timeout(), logger)

	riskMgr := risk.NewManager(database, venueClient, risk.Limits{
		MaxPositionSize:  mustDecimal(cfg.Risk.MaxPositionSize),
		MaxPortfolioRisk: mustDecimal(cfg.Risk.MaxPortfolioRisk),
		MaxOrdersPerHour: cfg.Risk.MaxOrdersPerHour,
		MinLiquidity:     mustDecimal(cfg.Risk.MinLiquidity),
		BlacklistedMints: cfg.Risk.BlacklistedMints,
	}, logger)

	portfolioMgr := portfolio.NewManager(database, logger)
	tradeHub := api.NewTradeHub(logger)
	eng := engine.NewEngine(database, venueClient, venueClient, riskMgr, portfolioMgr, tradeHub, logger)

	scheduler := engine.NewScheduler(eng, cfg.Scheduler.Interval(), cfg.Scheduler.PassTimeout(),
		cfg.Scheduler.MaxConcurrent, logger)
	go scheduler.Run(ctx)

	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL())
	handler := api.NewHandler(database, eng, authService, logger)
	limiter := api.NewRateLimiter(cfg.Server.RatePerSecond, cfg.Server.RateBurst)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket trade feed
	r.Get("/ws", tradeHub.HandleWebSocket)

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Use(limiter.Middleware)
		r.Post("/orders", handler.CreateOrder)
		r.Get("/orders", handler.GetUserOrders)
		r.Delete("/orders/{id}", handler.CancelOrder)
		r.Get("/trades", handler.GetUserTrades)
		r.Get("/portfolio", handler.GetPortfolio)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal")

	cancel()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	logger.Info("Server stopped")
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		logger.WithError(err).WithField("value", s).Fatal("Invalid decimal in configuration")
	}
	return d
}
