package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/fittrack/internal/api"
	"example.com/fittrack/internal/auth"
	"example.com/fittrack/internal/config"
	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/outbox"
	"example.com/fittrack/internal/persistence/memory"
	persistence "example.com/fittrack/internal/persistence/postgres"
	"example.com/fittrack/internal/provider/strava"
	"example.com/fittrack/internal/ratelimit"
	httptransport "example.com/fittrack/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		repo        domain.Repository
		connections domain.ConnectionRepository
		dispatcher  *outbox.Dispatcher
	)

	if cfg.PostgresURL == "" {
		log.Println("POSTGRES_URL not set, using in-memory store (events are not published)")
		store := memory.NewStore()
		repo, connections = store, store
	} else {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()

		pg := persistence.NewRepository(pool)
		repo, connections = pg, pg

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	}

	opts := []domain.ServiceOption{
		domain.WithConnections(connections),
		domain.WithSyncCooldown(cfg.ImportCooldown),
	}

	if cfg.RedisURL != "" {
		rdb, err := ratelimit.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		opts = append(opts, domain.WithLocker(ratelimit.New(rdb)))
	}

	if cfg.Strava.Enabled() {
		oauthCfg := strava.NewOAuthConfig(cfg.Strava.ClientID, cfg.Strava.ClientSecret, cfg.Strava.RedirectURL)
		opts = append(opts, domain.WithProvider(strava.NewProvider(oauthCfg, connections)))
	} else {
		log.Println("strava credentials not set, provider sync disabled")
	}

	service := domain.NewService(repo, opts...)

	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	handler := api.NewHandler(service, authCfg)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(authCfg, auth.PublicPaths("/healthz", "/metrics", api.CallbackPath(strava.Name)))

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), httptransport.Chain(mux,
		httptransport.RequestLogger(nil),
		httptransport.CORS(cfg.CORSAllowedOrigin),
		authMiddleware.Wrap,
	))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("fittrack api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
