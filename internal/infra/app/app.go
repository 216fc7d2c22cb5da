package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
	awsinfra "github.com/Ozonelabrada/resqhub-sub000/internal/infra/aws"
	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/config"
	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/database"
	kafkainfra "github.com/Ozonelabrada/resqhub-sub000/internal/infra/kafka"
	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/logger"
	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/outbox"
	redisinfra "github.com/Ozonelabrada/resqhub-sub000/internal/infra/redis"
	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/security"
	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/telemetry"
	postgresrepo "github.com/Ozonelabrada/resqhub-sub000/internal/repository/postgres"
	redisrepo "github.com/Ozonelabrada/resqhub-sub000/internal/repository/redis"
	transportgrpc "github.com/Ozonelabrada/resqhub-sub000/internal/transport/grpc"
	grpcinterceptors "github.com/Ozonelabrada/resqhub-sub000/internal/transport/grpc/interceptors"
	"github.com/Ozonelabrada/resqhub-sub000/internal/transport/http/middleware"
	"github.com/Ozonelabrada/resqhub-sub000/internal/transport/http/routes"
	"github.com/Ozonelabrada/resqhub-sub000/internal/usecase"
)

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	tracer     *telemetry.TracerProvider
	producer   *kafkainfra.Producer
	consumer   *kafkainfra.CandidateConsumer
	relay      *outbox.Relay
	grpcServer *transportgrpc.Server
	grpcAddr   string
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log, grpcAddr: fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *Application) init(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) != "" {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.tracer = tp
	}

	workflowMetrics, err := telemetry.NewWorkflowMetrics(telemetry.WorkflowMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return fmt.Errorf("init workflow metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}
	grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{})
	if err != nil {
		return fmt.Errorf("init grpc metrics: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	a.redis = redisClient

	tokens, err := security.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool, cfg.Notifications.OutboxMaxAttempts)

	reports := usecase.NewCachedReportReader(repos.Reports, redisrepo.NewReportCache(redisClient.Client(), cfg.Redis.ReportCachePrefix), cfg.Workflow.ReportCacheTTL).
		WithLogger(log).
		WithMetrics(workflowMetrics)

	delivery, err := a.notificationDriver(ctx, workflowMetrics)
	if err != nil {
		return err
	}

	if cfg.Notifications.OutboxEnabled {
		a.relay = outbox.NewRelay(repos.Outbox, delivery, log, outbox.RelayOptions{
			Interval:  cfg.Notifications.RelayInterval,
			BatchSize: cfg.Notifications.RelayBatchSize,
		}).WithMetrics(workflowMetrics)
	}

	attestation, err := domain.ParseAttestationMode(cfg.Workflow.AttestationMode)
	if err != nil {
		return fmt.Errorf("workflow attestation mode: %w", err)
	}

	workflow := usecase.NewMatchWorkflowService(
		repos.Matches,
		reports,
		delivery,
		redisrepo.NewMatchLock(redisClient.Client(), cfg.Redis.LockPrefix),
		usecase.MatchWorkflowOptions{
			AttestationMode:   attestation,
			HandoverWindow:    cfg.Workflow.HandoverWindow,
			LockTTL:           cfg.Workflow.LockTTL,
			DegradationPolicy: domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(cfg.Workflow.DegradationPolicy)),
		},
	).WithLogger(log).WithMetrics(workflowMetrics)
	if cfg.Notifications.OutboxEnabled {
		workflow.WithOutboxWriter(repos.Matches)
	}

	if cfg.Kafka.ConsumerEnabled && len(cfg.Kafka.Brokers) > 0 {
		group, err := kafkainfra.NewConsumerGroup(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("init candidate consumer: %w", err)
		}
		a.consumer = kafkainfra.NewCandidateConsumer(group, cfg.Kafka.CandidateTopic, workflow, log)
	}

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = 15 * time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       rateLimitWindow * 2,
	})

	a.grpcServer = transportgrpc.NewServer(transportgrpc.ServerDependencies{
		Tokens:  tokens,
		Metrics: grpcMetrics,
		Tracing: grpcinterceptors.NewTracingInterceptor(grpcinterceptors.TracingOptions{
			SkipMethods: transportgrpc.HealthMethods(),
		}),
		Logger:  log,
	})

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: middleware.NewRateLimiter(rateLimitStore, log).WithRejectHook(workflowMetrics.IncThrottled),
		HTTPMetrics: httpMetrics,
		Workflow:    workflow,
		Tokens:      tokens,
		Database:    pool,
		Cache:       redisClient,
	})

	return nil
}

// notificationDriver builds the transport that actually reaches the parties.
// A Kafka outage at startup degrades to the log driver rather than failing boot.
func (a *Application) notificationDriver(ctx context.Context, metrics *telemetry.WorkflowMetrics) (port.NotificationPort, error) {
	cfg, log := a.cfg, a.logger

	switch strings.ToLower(strings.TrimSpace(cfg.Notifications.Driver)) {
	case "sns":
		client, err := awsinfra.NewSNSClient(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("init sns client: %w", err)
		}
		notifier, err := awsinfra.NewSNSNotifier(client, cfg.AWS.SNSTopicARN, log)
		if err != nil {
			return nil, fmt.Errorf("init sns notifier: %w", err)
		}
		log.Info("sns match notifier initialized", zap.String("region", cfg.AWS.Region))
		return notifier, nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			log.Info("kafka brokers not configured, using stub publisher")
			return kafkainfra.NewStubPublisher(log), nil
		}
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log, kafkainfra.WithDeliveryFailureHook(metrics.IncNotificationFailure))
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			return kafkainfra.NewStubPublisher(log), nil
		}
		a.producer = producer
		return kafkainfra.NewMatchEventPublisher(producer, cfg.App, log), nil
	case "log", "":
		return kafkainfra.NewStubPublisher(log), nil
	default:
		return nil, fmt.Errorf("unknown notification driver %q", cfg.Notifications.Driver)
	}
}

func (a *Application) close() {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Warn("close candidate consumer", zap.Error(err))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
		cancel()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
}

func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	if a.relay != nil {
		if err := a.relay.Start(ctx); err != nil {
			return fmt.Errorf("start outbox relay: %w", err)
		}
		defer a.relay.Stop()
	}

	consumerErrCh := make(chan error, 1)
	if a.consumer != nil {
		go func() {
			if err := a.consumer.Run(ctx); err != nil {
				consumerErrCh <- fmt.Errorf("run candidate consumer: %w", err)
			}
		}()
	}

	grpcErrCh := make(chan error, 1)
	if a.grpcServer != nil && a.grpcAddr != "" {
		lis, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		a.logger.Info("starting gRPC server",
			zap.String("address", a.grpcAddr),
		)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("gRPC server panicked", zap.Any("panic", r))
					grpcErrCh <- fmt.Errorf("grpc server panicked: %v", r)
				}
			}()
			if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				a.logger.Error("gRPC server error", zap.Error(err))
				grpcErrCh <- fmt.Errorf("run grpc server: %w", err)
			}
		}()
		a.grpcServer.MarkServing()
		defer a.grpcServer.Shutdown()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting match API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("notification_driver", a.cfg.Notifications.Driver),
		zap.Bool("outbox", a.relay != nil),
		zap.Bool("candidate_consumer", a.consumer != nil),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	case err := <-grpcErrCh:
		return err
	case err := <-consumerErrCh:
		return err
	}
}
