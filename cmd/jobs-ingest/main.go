package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jobgtm/jobs-ingest/internal/config"
	"github.com/jobgtm/jobs-ingest/internal/consumer"
	"github.com/jobgtm/jobs-ingest/internal/extractor"
	"github.com/jobgtm/jobs-ingest/internal/extractor/scrapersvc"
	"github.com/jobgtm/jobs-ingest/internal/listing"
	"github.com/jobgtm/jobs-ingest/internal/orchestrator"
	"github.com/jobgtm/jobs-ingest/internal/platform/sqlite"
	"github.com/jobgtm/jobs-ingest/internal/producer"
	"github.com/jobgtm/jobs-ingest/internal/queue"
	listingrepo "github.com/jobgtm/jobs-ingest/internal/repository/listing"
	runrepo "github.com/jobgtm/jobs-ingest/internal/repository/run"
	"github.com/jobgtm/jobs-ingest/internal/run"
	"github.com/jobgtm/jobs-ingest/internal/server"
)

// The closed set of sources this deployment scrapes. Adding a source means
// adding it here and teaching the scraper service about it; there is no
// open-ended runtime lookup.
var sources = []string{"dice", "simplyhired", "ziprecruiter"}

func main() {
	cfg := config.Load()

	// Root context: cancelled on SIGINT/SIGTERM so in-flight runs stop
	// issuing pages and consumers stop collecting during graceful shutdown.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	listingRepo := listingrepo.NewRepository(db.DB)
	runRepo := runrepo.NewRepository(db.DB)

	registry := extractor.NewRegistry()
	for _, src := range sources {
		registry.Register(scrapersvc.New(src, cfg.ScraperURL))
	}

	broker, err := newBroker(cfg)
	if err != nil {
		slog.Error("failed to connect to broker", "driver", cfg.QueueDriver, "error", err)
		os.Exit(1)
	}
	defer func() { _ = broker.Close() }()

	prod := producer.New(broker)
	orch := orchestrator.New(rootCtx, registry, prod, runRepo,
		orchestrator.WithMaxPages(cfg.MaxPages),
		orchestrator.WithPageConcurrency(cfg.PageConcurrency),
	)

	// Consumer instances: independent, disjoint deliveries from the shared
	// queue. Idempotent writes keep concurrent instances safe.
	var consumers sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		cons := consumer.New(broker, listingRepo,
			consumer.WithBatchSize(cfg.BatchSize),
			consumer.WithBatchTimeout(cfg.BatchTimeout),
			consumer.WithMaxRetries(cfg.MaxRetries),
		)
		consumers.Add(1)
		go func(id int) {
			defer consumers.Done()
			if err := cons.Run(rootCtx); err != nil {
				slog.Error("consumer stopped", "consumer", id, "error", err)
			}
		}(i)
	}

	srv := server.New(rootCtx, cfg.Port, server.Deps{
		Orchestrator: orch,
		Registry:     registry,
		Runs:         run.NewService(runRepo),
		Listings:     listing.NewService(listingRepo),
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("jobs-ingest started", "port", cfg.Port, "queue", cfg.QueueDriver, "consumers", cfg.Workers)
	<-done

	// Stop issuing new work first; messages already in the queue are
	// independent of any run's lifetime.
	rootCancel()

	orch.Wait()
	consumers.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("jobs-ingest stopped")
}

func newBroker(cfg config.Config) (queue.Broker, error) {
	if cfg.QueueDriver == "memory" {
		return queue.NewMemoryBroker(0), nil
	}
	return queue.NewAMQPBroker(cfg.AMQPURL, sources, cfg.BatchSize*2)
}
