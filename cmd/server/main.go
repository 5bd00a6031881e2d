// Command server runs the document compliance pipeline: Kafka intake, the
// staged orchestrator, the manual review API, and the health projection.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	_ "github.com/jackc/pgx/v5/stdlib"

	"veriqan/internal/audit"
	"veriqan/internal/cases"
	"veriqan/internal/events"
	"veriqan/internal/health"
	"veriqan/internal/pipeline"
	"veriqan/internal/pipeline/processors"
	"veriqan/internal/platform/config"
	"veriqan/internal/platform/httpserver"
	"veriqan/internal/platform/logger"
	"veriqan/internal/platform/redis"
	"veriqan/internal/review"
	reviewservice "veriqan/internal/review/service"
	httptransport "veriqan/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		logger.New().Error("fatal", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	cache, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	var healthCache health.Cache
	if cache != nil {
		healthCache = cache
		defer cache.Close()
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return err
	}
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.IntakeTopic),
	)
	if err != nil {
		return err
	}
	defer consumer.Close()

	// Audit failures go to a dedicated stderr channel so they stay visible
	// even though they never fail the caller.
	trail := audit.NewTrail(audit.NewPostgresStore(db), logger.NewAuditFallback(),
		audit.WithMetrics(audit.NewMetrics()),
		audit.WithBreaker(audit.NewCircuitBreaker(5, time.Minute)),
	)

	caseStore := cases.NewPostgresStore(db)
	reviewStore := review.NewPostgresStore(db)

	coordinator, err := reviewservice.New(reviewStore, caseStore, review.NewPostgresTx(db), trail, log,
		reviewservice.WithMetrics(reviewservice.NewMetrics()),
	)
	if err != nil {
		return err
	}

	publisher := events.NewKafkaPublisher(producer, cfg.EventTopic, log)
	stages := processors.New(cfg.MinQuality, cfg.MinConfidence, cfg.ExportDir)

	orch, err := pipeline.New(stages, caseStore, coordinator, trail, publisher,
		pipeline.Config{DaysAllowed: cfg.DaysAllowed, SLA: cfg.SLA()}, log,
		pipeline.WithMetrics(pipeline.NewMetrics()),
	)
	if err != nil {
		return err
	}

	inbox := make(chan events.IngestionCompleted)
	intake := events.NewIntakeConsumer(consumer, inbox, log)
	runner := pipeline.NewRunner(orch, inbox, cfg.IntakeWorkers, log)
	healthSvc := health.New(coordinator, caseStore, cfg.SLA(), healthCache, log)

	router := httptransport.NewRouter(
		httptransport.NewReviewHandler(coordinator, orch, log),
		httptransport.NewCaseHandler(trail, orch, log),
		healthSvc,
		log,
	)
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return intake.Run(ctx) })
	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error { return healthSvc.Run(ctx) })
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "error", err.Error())
		}
		if err := publisher.Close(shutdownCtx); err != nil {
			log.Error("event flush failed", "error", err.Error())
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}
