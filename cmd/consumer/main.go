package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/fittrack/internal/config"
	"example.com/fittrack/internal/consumer"
)

func main() {
	cfg := config.Load()
	if cfg.PostgresURL == "" {
		log.Fatal("POSTGRES_URL is required for the feed projector")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	metrics := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("feed projector metrics listening on %s", cfg.MetricsAddress)
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server error: %v", err)
		}
	}()

	projector := consumer.NewFeedProjector(pool, nil)
	wg := runProjectors(ctx, cfg, projector)

	<-ctx.Done()
	log.Println("feed projector shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
	wg.Wait()
}

// restartDelay spaces out reopening a topic's reader after a message
// exhausted its retries.
const restartDelay = 5 * time.Second

// runProjectors starts one supervised processor per configured topic, all
// sharing the consumer group so partitions are spread across replicas.
func runProjectors(ctx context.Context, cfg config.Config, handler consumer.Handler) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, topic := range cfg.ConsumerTopics {
		open := func() (consumer.Reader, error) {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:        cfg.KafkaBrokers,
				GroupID:        cfg.ConsumerGroupID,
				Topic:          topic,
				MinBytes:       1,
				MaxBytes:       10e6,
				MaxWait:        time.Second,
				StartOffset:    kafka.FirstOffset,
				CommitInterval: 0,
			}), nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := consumer.RunSupervised(ctx, open, handler, restartDelay,
				consumer.WithLogger(log.New(log.Writer(), "[feed:"+topic+"] ", log.LstdFlags)),
				consumer.WithRetry(cfg.ConsumerRetries, cfg.ConsumerBackoff),
			)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("processor for %s stopped: %v", topic, err)
			}
		}()
	}
	return &wg
}
