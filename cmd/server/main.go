package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	jwttoken "pmhub/internal/jwt_token"
	"pmhub/internal/lifecycle"
	"pmhub/internal/mutation/handler"
	mutationmetrics "pmhub/internal/mutation/metrics"
	"pmhub/internal/mutation/service"
	"pmhub/internal/notify"
	"pmhub/internal/permission"
	"pmhub/internal/platform/config"
	"pmhub/internal/platform/httpserver"
	"pmhub/internal/platform/kafka"
	"pmhub/internal/platform/logger"
	platformmetrics "pmhub/internal/platform/metrics"
	"pmhub/internal/storage"
	"pmhub/pkg/platform/audit/outbox"
	"pmhub/pkg/platform/circuit"
)

// tokenAudience is the aud claim accepted on /v1.
const tokenAudience = "pmhub-api"

// main wires dependencies and runs the HTTP server, the notification
// dispatcher and, with Postgres and Kafka configured, the audit outbox relay.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("pmhub exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	backend, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("closing store", "error", err)
		}
	}()

	policy, err := permission.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}
	gate := permission.NewGate(policy)

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return err
	}
	if producer != nil {
		defer producer.Close()
		for _, topic := range []string{cfg.Kafka.AuditTopic, cfg.Kafka.NotifyTopic} {
			if err := kafka.EnsureTopic(ctx, producer, topic, 3, 1); err != nil {
				log.Warn("kafka topic bootstrap failed", "topic", topic, "error", err)
			}
		}
	}

	sinks := []notify.Sink{notify.NewLogSink(log)}
	if producer != nil {
		sinks = append(sinks, notify.NewKafkaSink(producer, cfg.Kafka.NotifyTopic))
	}
	dispatcher := notify.NewDispatcher(sinks, notify.WithLogger(log))

	svc := service.New(backend.Records, backend.Audit, backend.UoW,
		service.WithLogger(log),
		service.WithMetrics(mutationmetrics.New()),
		service.WithNotifier(dispatcher),
		service.WithGate(gate),
		service.WithLifecycle(lifecycle.Default(gate)),
		service.WithBulkConcurrency(cfg.BulkConcurrency),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, tokenAudience)
	h := handler.New(svc, log, platformmetrics.New(), jwttoken.NewJWTServiceAdapter(jwtService),
		handler.WithPolicy(policy),
	)

	router := chi.NewRouter()
	checks := map[string]handler.HealthCheck{"records": backend.Health}
	if producer != nil {
		checks["kafka"] = func(ctx context.Context) error { return kafka.Health(ctx, producer) }
	}
	handler.RegisterOps(router, log, checks)
	h.Register(router)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := dispatcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if relay := newRelay(cfg, backend, producer, log); relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("starting pmhub", "addr", cfg.Addr, "store", string(backend.Kind), "kafka", producer != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newRelay returns nil unless the outbox table and a producer both exist.
func newRelay(cfg config.Server, backend *storage.Backend, producer *kgo.Client, log *slog.Logger) *outbox.Relay {
	if producer == nil || backend.DB == nil {
		return nil
	}
	return outbox.NewRelay(backend.DB, producer, cfg.Kafka.AuditTopic,
		outbox.WithLogger(log),
		outbox.WithMetrics(outbox.NewMetrics()),
		outbox.WithInterval(cfg.Kafka.OutboxInterval),
		outbox.WithBatchSize(cfg.Kafka.OutboxBatch),
		outbox.WithBreaker(circuit.New("outbox-relay",
			circuit.WithFailureThreshold(3),
			circuit.WithCooldown(30*time.Second),
		)),
	)
}
