package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"slot-scheduler/internal/app"
	"slot-scheduler/internal/config"
	"slot-scheduler/internal/logging"
	"slot-scheduler/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := app.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := &app.PGStore{DB: pool}

	a := &app.App{
		Users:           store,
		Availability:    store,
		Events:          store,
		Cache:           app.NoCache{},
		Mailer:          app.LogMailer{Log: log},
		Publisher:       app.NoPublisher{},
		Log:             log,
		DefaultTimezone: cfg.DefaultTimezone,
		FrontendURL:     cfg.FrontendURL,
		Tokens: &app.Tokens{
			Secret:   []byte(cfg.JWTSecret),
			TTL:      cfg.TokenTTL,
			ResetTTL: cfg.ResetTokenTTL,
		},
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, slot cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			a.Cache = app.NewRedisSlotCache(rdb, cfg.SlotCacheTTL)
		}
	}
	if cfg.SMTPHost != "" {
		a.Mailer = app.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.EmailFrom)
	}
	if brokers := config.SplitList(cfg.KafkaBrokers); len(brokers) > 0 {
		p := app.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		defer p.Close()
		a.Publisher = p
	}
	if cfg.GoogleConfigured() {
		a.Google = app.NewGoogleConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	} else {
		log.Info("google calendar integration disabled")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(server.Recovery(log))
	router.Use(server.RequestLogger(log))
	router.Use(server.CORS(config.SplitList(cfg.CORSAllowedOrigins)))
	router.Use(server.RateLimit(cfg.MaxRequestsPerMin, log))
	a.RegisterRoutes(router)

	return server.Run(ctx, router, cfg.AppPort, log)
}
