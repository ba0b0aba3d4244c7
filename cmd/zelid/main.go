package main

import (
	"context"
	"errors"
	"log"
	nethttp "net/http"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/layer-3/zelid/adapters/events"
	"github.com/layer-3/zelid/adapters/store"
	"github.com/layer-3/zelid/adapters/tokenizer"
	"github.com/layer-3/zelid/config"
	"github.com/layer-3/zelid/ports"
	"github.com/layer-3/zelid/service"
	"github.com/layer-3/zelid/transport/http"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := watermill.NewStdLogger(cfg.Log.Debug, cfg.Log.Trace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	privateKey, err := tokenizer.LoadSigningKey(cfg.Token.SigningKey)
	if err != nil {
		log.Fatalf("Failed to load signing key: %v", err)
	}
	if cfg.Token.SigningKey == "" {
		logger.Info("No signing key configured, tokens will not survive a restart", nil)
	}

	var (
		st       ports.Store
		eventPub ports.EventPublisher
	)
	switch cfg.Store.Backend {
	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient := redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		st = store.NewRedisStore(redisClient)

		if cfg.Events.Enabled {
			publisher, err := redisstream.NewPublisher(
				redisstream.PublisherConfig{
					Client: redisClient,
				},
				logger,
			)
			if err != nil {
				log.Fatalf("Failed to create Redis publisher: %v", err)
			}
			defer publisher.Close()
			eventPub = events.NewWatermillPublisher(publisher)
		}
	default:
		logger.Info("Using in-memory store, sessions will not survive a restart", nil)
		st = store.NewMemoryStore()
	}
	defer st.Close()

	access, err := service.NewAccessControl(cfg.Access.NodeOperator, cfg.Access.Team)
	if err != nil {
		log.Fatalf("Failed to configure access control: %v", err)
	}

	authService := service.NewAuthService(st, tokenizer.NewJWTTokenizer(privateKey), eventPub, access, logger, service.Options{
		ChallengeTTL:       cfg.Challenge.TTL,
		ChallengeGrace:     cfg.Challenge.Grace,
		SessionIdleTimeout: cfg.Session.IdleTimeout,
	})

	sweeper := service.NewSweeper(authService, cfg.SweepInterval, logger)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	server := &nethttp.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: http.SetupRouter(authService, logger),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", watermill.LogFields{"addr": cfg.HTTP.Addr, "store": cfg.Store.Backend})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server failed", err, nil)
		}
		stop()
	}

	logger.Info("Shutting down", nil)
	// Shutdown does not wait for hijacked WebSocket connections, so the hub closes them first
	authService.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", err, nil)
	}
	<-sweepDone
}
