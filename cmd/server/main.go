// Server runs the hotspot control plane: the reconcile and expiration jobs, the payment consumer
// and the gRPC health surface.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	accountrepo "hotspot-control-plane/backend/internal/account/repository"
	"hotspot-control-plane/backend/internal/account/lifecycle"
	"hotspot-control-plane/backend/internal/audit"
	auditrepo "hotspot-control-plane/backend/internal/audit/repository"
	"hotspot-control-plane/backend/internal/bandwidth"
	"hotspot-control-plane/backend/internal/config"
	"hotspot-control-plane/backend/internal/db"
	"hotspot-control-plane/backend/internal/gateway"
	healthhandler "hotspot-control-plane/backend/internal/health/handler"
	"hotspot-control-plane/backend/internal/logging"
	"hotspot-control-plane/backend/internal/payment"
	paymentrepo "hotspot-control-plane/backend/internal/payment/repository"
	"hotspot-control-plane/backend/internal/payment/tiers"
	"hotspot-control-plane/backend/internal/scheduler"
	"hotspot-control-plane/backend/internal/server"
	"hotspot-control-plane/backend/internal/session/reconciler"
	sessionrepo "hotspot-control-plane/backend/internal/session/repository"
	"hotspot-control-plane/backend/internal/telemetry"
	telemetryotel "hotspot-control-plane/backend/internal/telemetry/otel"
	"hotspot-control-plane/backend/internal/telemetry/producer"
)

const (
	healthInterval = 30 * time.Second
	statsInterval  = time.Minute
	// retryBatch bounds how many flagged payments one retry run handles.
	retryBatch = 50
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stderr).With(slog.F("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal(ctx, "server exited", slog.Error(err))
	}
	logger.Info(context.Background(), "server stopped")
}

type stores struct {
	accounts accountrepo.Repository
	sessions sessionrepo.Repository
	payments paymentrepo.Repository
	audit    auditrepo.Repository
}

// openStores uses Postgres when DATABASE_URL is set and in-memory stores otherwise.
func openStores(ctx context.Context, cfg *config.Config, logger slog.Logger) (*sql.DB, stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn(ctx, "DATABASE_URL not set, using in-memory stores; state is lost on restart")
		return nil, stores{
			accounts: accountrepo.NewMemoryRepository(),
			sessions: sessionrepo.NewMemoryRepository(),
			payments: paymentrepo.NewMemoryRepository(),
			audit:    auditrepo.NewMemoryRepository(),
		}, nil
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, stores{}, fmt.Errorf("db: %w", err)
	}
	return conn, stores{
		accounts: accountrepo.NewPostgresRepository(conn),
		sessions: sessionrepo.NewPostgresRepository(conn),
		payments: paymentrepo.NewPostgresRepository(conn),
		audit:    auditrepo.NewPostgresRepository(conn),
	}, nil
}

func run(ctx context.Context, cfg *config.Config, logger slog.Logger) error {
	clock := quartz.NewReal()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		DeviceHost:  cfg.DeviceHost,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	metrics, err := telemetryotel.NewMetrics(providers.MeterProvider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	conn, st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if conn != nil {
		defer conn.Close()
	}

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	defer gw.Close()

	pricing, err := tiers.LoadOPA(ctx, cfg.TierPolicyFile, logger)
	if err != nil {
		return err
	}

	emitters := []telemetry.EventEmitter{
		telemetryotel.NewEventEmitter(providers.LoggerProvider),
		audit.NewLogger(st.audit, logger),
	}
	kafkaProducer := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.EventsKafkaTopic)
	if kafkaProducer != nil {
		defer kafkaProducer.Close()
		emitters = append(emitters, kafkaProducer)
	}
	emitter := telemetry.NewMulti(emitters...)

	manager := lifecycle.NewManager(st.accounts, gw, clock, logger, lifecycle.Options{
		IdentityPrefix: cfg.IdentityPrefix,
		Emitter:        emitter,
		Metrics:        metrics,
	})
	estimator := bandwidth.NewEstimator(cfg.SampleTTL(), cfg.RateSampleMax)
	monitor := bandwidth.NewMonitor(gw, estimator, st.accounts, clock, logger)
	rec := reconciler.New(gw, st.sessions, st.accounts, clock, logger, reconciler.Options{
		Samples: estimator,
		Emitter: emitter,
		Metrics: metrics,
	})
	trigger := payment.NewTrigger(manager, st.payments, pricing, clock, logger, emitter)
	consumer := payment.NewConsumer(cfg.KafkaBrokersList(), cfg.PaymentsKafkaTopic, cfg.PaymentsGroupID, trigger, logger)
	defer consumer.Close()

	schedOpts := scheduler.Options{Timeout: cfg.JobRunTimeout(), LockTTL: cfg.LockTTL(), Metrics: metrics}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		schedOpts.Locker = scheduler.NewRedisLocker(rdb)
	}
	sched := scheduler.New(clock, logger, schedOpts)
	jobs := []scheduler.Job{
		{Name: "reconcile", Interval: cfg.ReconcileEvery(), RunOnStart: true, Run: func(ctx context.Context) error {
			_, err := rec.Reconcile(ctx)
			return err
		}},
		{Name: "expire-sweep", Interval: cfg.ExpireSweepEvery(), RunOnStart: true, Run: func(ctx context.Context) error {
			var merr *multierror.Error
			if _, err := manager.ExpireSweep(ctx); err != nil {
				merr = multierror.Append(merr, err)
			}
			if _, err := manager.ResyncExpired(ctx); err != nil {
				merr = multierror.Append(merr, err)
			}
			return merr.ErrorOrNil()
		}},
		{Name: "bandwidth-stats", Interval: statsInterval, Run: func(ctx context.Context) error {
			stats, err := monitor.Stats(ctx)
			if err != nil {
				return err
			}
			metrics.RecordLiveBytes(ctx, stats.TotalBytes)
			return nil
		}},
		{Name: "payment-retry", Interval: cfg.ReconcileEvery(), Run: func(ctx context.Context) error {
			_, err := trigger.RetryFlagged(ctx, retryBatch)
			return err
		}},
	}
	for _, j := range jobs {
		if err := sched.Add(j); err != nil {
			return err
		}
	}

	var pinger healthhandler.Pinger
	if conn != nil {
		pinger = conn
	}
	health := healthhandler.NewServer(pinger, gw, pricing, logger)
	grpcServer := server.New(health, logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "gRPC server listening", slog.F("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error { return health.Run(gctx, clock, healthInterval) })
	g.Go(func() error { return consumer.Run(gctx) })
	sched.Start(gctx)

	<-gctx.Done()
	logger.Info(context.Background(), "shutting down")
	health.Shutdown()
	grpcServer.GracefulStop()
	sched.Close()
	err = g.Wait()

	// Let async emits from the last runs land before the providers go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := providers.Shutdown(shutdownCtx); serr != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown", slog.Error(serr))
	}
	return err
}
