package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"gardennotify/internal/api/handlers"
	"gardennotify/internal/conditions"
	"gardennotify/internal/config"
	"gardennotify/internal/core"
	"gardennotify/internal/db"
	"gardennotify/internal/external"
	ncore "gardennotify/internal/notifications/core"
	"gardennotify/internal/notifications/dispatch"
	"gardennotify/internal/notifications/email"
	"gardennotify/internal/scheduler"
	"gardennotify/internal/types"
)

// sendGridTimeout bounds a single Mail Send HTTP attempt.
const sendGridTimeout = 10 * time.Second

// Metrics is the union of the engine and HTTP metric surfaces. Both the
// CloudWatch implementation and NoopMetrics satisfy it.
type Metrics interface {
	ncore.NotificationMetrics
	core.MetricsCollector
}

// App is the wired dependency graph.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Pool          *pgxpool.Pool
	Runner        *scheduler.Runner
	Notifications *db.NotificationRepository
	Metrics       Metrics
	WorkerID      string
}

// Build opens the database pool, creates the AWS clients and assembles the
// engine, dispatcher and runner. Close releases the pool.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	typed := NewTypedLogger(logger)
	workerID := uuid.NewString()

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.Database.URL.Unmask(),
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	endpoint := cfg.AWS.EndpointURL

	var metrics Metrics = ncore.NoopMetrics{}
	if cfg.Observability.MetricsEnabled {
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		metrics = ncore.NewCloudWatchNotificationMetrics(cw, cfg.Observability.MetricNamespace, typed.With("component", "metrics"))
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	users := db.NewUserRepository(pool)
	rules := db.NewRuleRepository(pool)
	reminders := db.NewReminderRepository(pool)
	garden := db.NewGardenRepository(pool)
	held := db.NewHeldDeliveryRepository(pool)
	notifications := db.NewNotificationRepository(pool)
	locks := db.NewJobLockRepository(pool)
	history := db.NewJobHistoryRepository(pool)

	channels := []ncore.Channel{
		dispatch.InAppChannel{},
		dispatch.NewPushChannel(ncore.NewPushPublisher(sqsClient, cfg.AWS.PushQueue, cfg.AWS.PushCompressThreshold, typed.With("component", "push"))),
	}
	if cfg.Email.Enabled {
		provider := external.NewSendGridClient(&http.Client{Timeout: sendGridTimeout}, external.SendGridClientConfig{
			APIKey:  cfg.Email.SendGridAPIKey.Unmask(),
			BaseURL: cfg.Email.SendGridURL,
			Logger:  logger,
		})
		channels = append(channels, email.NewEmailChannel(email.EmailChannelConfig{
			Provider: provider,
			From:     external.EmailAddress{Address: cfg.Email.FromAddress, Name: cfg.Email.FromName},
			Footer:   cfg.Email.Footer,
			Logger:   typed.With("component", "email"),
		}))
	} else {
		logger.Warn("email channel disabled by configuration")
	}

	dispatcher := dispatch.New(dispatch.Config{
		Channels:      channels,
		Policy:        ncore.NewPolicyEngine(types.RealClock{}, typed.With("component", "policy")),
		Held:          ncore.NewHeldDeliveryManager(held, ncore.HeldRetryPolicy, typed.With("component", "held")),
		HeldLeaser:    held,
		Notifications: notifications,
		Metrics:       metrics,
		Logger:        typed.With("component", "dispatch"),
		HeldLease:     cfg.Engine.HeldLease,
	})

	engine := scheduler.NewEngine(scheduler.EngineDeps{
		Users:      users,
		Rules:      rules,
		Reminders:  reminders,
		Garden:     garden,
		Dispatcher: dispatcher,
		Evaluator:  conditions.NewEvaluator(typed.With("component", "conditions")),
		Metrics:    metrics,
		Logger:     logger,
	}, scheduler.EngineConfig{
		Concurrency:      cfg.Engine.Concurrency,
		UserBatch:        cfg.Engine.UserBatch,
		ReminderBatch:    cfg.Engine.ReminderBatch,
		ClaimLease:       cfg.Engine.ClaimLease,
		MaxClaimAttempts: cfg.Engine.MaxClaimAttempts,
	})

	cleanup := scheduler.NewCleanupService(scheduler.CleanupDeps{
		Claims:        rules,
		Held:          held,
		Notifications: notifications,
		Locks:         locks,
		History:       history,
	}, cfg.Engine.Retention, logger)

	runner := &scheduler.Runner{
		Engine:     engine,
		Cleanup:    cleanup,
		JobLock:    locks,
		JobHistory: history,
		WorkerID:   workerID,
		LockTTL:    cfg.Engine.LockTTL,
		Logger:     logger,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Pool:          pool,
		Runner:        runner,
		Notifications: notifications,
		Metrics:       metrics,
		WorkerID:      workerID,
	}, nil
}

// NewServer builds the operational HTTP server on top of the app.
func (a *App) NewServer() (*core.Server, error) {
	srv, err := core.NewServer(a.Config.Server, a.Logger)
	if err != nil {
		return nil, err
	}
	srv.Metrics = a.Metrics
	srv.HealthProbes = []core.HealthProbe{core.DatabaseProbe{DB: a.Pool}}
	srv.RequestTimeout = a.Config.Engine.TickTimeout

	users := handlers.NewUserHandler(a.Runner, a.Notifications, a.Logger)
	srv.V1RouteRegistrars = []core.RouteRegistrar{users.RegisterRoutes}
	srv.MountRoutes()
	return srv, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
