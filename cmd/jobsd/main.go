// Command jobsd runs the job engine, the trigger scheduler and the admin API
// in one process.
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
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobkit/pkg/audit"
	"github.com/dmitrymomot/jobkit/pkg/clientip"
	"github.com/dmitrymomot/jobkit/pkg/config"
	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/environment"
	"github.com/dmitrymomot/jobkit/pkg/errtrack"
	"github.com/dmitrymomot/jobkit/pkg/file"
	"github.com/dmitrymomot/jobkit/pkg/httpserver"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/monitor"
	"github.com/dmitrymomot/jobkit/pkg/opensearch"
	"github.com/dmitrymomot/jobkit/pkg/pg"
	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/ratelimiter"
	"github.com/dmitrymomot/jobkit/pkg/redis"
	"github.com/dmitrymomot/jobkit/pkg/requestid"
	"github.com/dmitrymomot/jobkit/svc/jobs"
)

const serviceName = "jobsd"

// guardTTL bounds how long a completed side effect is remembered.
const guardTTL = 7 * 24 * time.Hour

type appConfig struct {
	Env string `env:"APP_ENV" envDefault:"development"`
	Log logger.Config

	Redis      redis.Config
	Postgres   pg.Config
	Queue      queue.Config
	Monitor    monitor.Config
	Email      email.Config
	Files      file.Config
	OpenSearch opensearch.Config
	HTTP       httpserver.Config
	Jobs       jobs.Config
}

func main() {
	cfg, err := config.Load[appConfig]()
	if err != nil {
		slog.Error("invalid configuration", logger.Error(err))
		os.Exit(1)
	}

	env := environment.Parse(cfg.Env)
	log := logger.New(
		logger.WithEnvironment(env.String(), serviceName),
		logger.WithConfig(cfg.Log),
		logger.WithContextExtractors(
			environment.LoggerExtractor(),
			requestid.LoggerExtractor(),
			queue.LogExtractor(),
		),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = environment.WithContext(ctx, env)

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "jobsd stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.InfoContext(ctx, "jobsd stopped")
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.MigrateFS(ctx, pool, audit.Migrations, audit.MigrationsDir, cfg.Postgres, log); err != nil {
		return err
	}

	auditStorage := audit.NewPostgresStorage(pool)
	asyncAudit := audit.NewAsyncStorage(auditStorage, audit.AsyncOptions{})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = asyncAudit.Close(closeCtx)
	}()
	auditLog := audit.NewLogger(asyncAudit,
		audit.WithActorExtractor(monitor.ActorExtractor),
		audit.WithRequestIDExtractor(requestid.Extractor),
		audit.WithIPExtractor(clientip.Extractor),
	)

	reporter, checks, err := errorReporter(ctx, cfg.OpenSearch, log)
	if err != nil {
		return err
	}

	broker, err := queue.NewRedisBroker(redisClient,
		queue.WithKeyPrefix(cfg.Queue.KeyPrefix),
		queue.WithRedisLogger(log),
	)
	if err != nil {
		return err
	}

	engine, err := queue.NewEngine(broker,
		queue.WithLogger(log),
		queue.WithErrorReporter(reporter),
		queue.WithReportTimeout(cfg.Queue.ReportTimeout),
		queue.WithPollInterval(cfg.Queue.PollInterval),
	)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	sender, err := email.NewSender(cfg.Email)
	if err != nil {
		return err
	}
	storage, err := file.NewStorage(ctx, cfg.Files)
	if err != nil {
		return err
	}

	if err := jobs.RegisterQueues(engine, cfg.Queue); err != nil {
		return err
	}
	if err := jobs.Register(engine, cfg.Jobs, jobs.Deps{
		Sender:      sender,
		Storage:     storage,
		Guard:       queue.NewRedisGuard(redisClient, cfg.Queue.KeyPrefix, guardTTL),
		Dumper:      jobs.NewCopyDumper(pool, cfg.Jobs.BackupTables),
		AuditPurger: auditStorage,
		Logger:      log,
	}); err != nil {
		return err
	}

	scheduler, err := queue.NewScheduler(engine,
		queue.WithSchedulerLogger(log),
		queue.WithSchedulerReporter(reporter),
	)
	if err != nil {
		return err
	}
	if err := jobs.AddTriggers(scheduler, cfg.Jobs); err != nil {
		return err
	}

	mon, err := monitor.New(engine, cfg.Monitor,
		monitor.WithLogger(log),
		monitor.WithScheduler(scheduler),
		monitor.WithAuditor(auditLog),
		monitor.WithAuditReader(audit.NewReader(auditStorage)),
	)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Get("/health/live", httpserver.LivenessHandler())
	router.Get("/health/ready", httpserver.ReadinessHandler(log, append(checks,
		httpserver.Check{Name: "redis", Fn: redis.Healthcheck(redisClient)},
		httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
		httpserver.Check{Name: "broker", Fn: engine.Ping},
	)...))

	if cfg.Monitor.AdminToken != "" {
		store, err := ratelimiter.NewRedisStore(redisClient, ratelimiter.WithRedisKeyPrefix(cfg.Queue.KeyPrefix+":ratelimit"))
		if err != nil {
			return err
		}
		limiter, err := ratelimiter.NewBucket(store, mon.Config().RateLimit)
		if err != nil {
			return err
		}
		admin, err := monitor.NewHandler(mon, monitor.WithRateLimiter(limiter), monitor.WithHandlerLogger(log))
		if err != nil {
			return err
		}
		// The admin router matches the full path, so it is not mounted.
		router.Handle(monitor.BasePath+"/*", admin)
	} else {
		log.WarnContext(ctx, "MONITOR_ADMIN_TOKEN is empty, admin API disabled")
	}

	server := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(engine.Run(gctx))
	g.Go(mon.Run(gctx))
	if len(scheduler.Triggers()) > 0 {
		g.Go(scheduler.Run(gctx))
	}
	g.Go(server.Run(gctx, router))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// errorReporter logs every terminal failure and, when OpenSearch is
// configured, indexes it as well.
func errorReporter(ctx context.Context, cfg opensearch.Config, log *slog.Logger) (queue.ErrorReporter, []httpserver.Check, error) {
	reporters := []queue.ErrorReporter{errtrack.NewLogReporter(log)}
	var checks []httpserver.Check

	if cfg.Enabled() {
		client, err := opensearch.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		indexer, err := opensearch.NewIndexer(client, cfg.IndexPrefix)
		if err != nil {
			return nil, nil, err
		}
		idx, err := errtrack.NewIndexReporter(indexer)
		if err != nil {
			return nil, nil, err
		}
		reporters = append(reporters, idx)
		checks = append(checks, httpserver.Check{Name: "opensearch", Fn: opensearch.Healthcheck(client)})
	}

	return errtrack.NewMultiReporter(reporters, errtrack.WithMultiReporterLogger(log)), checks, nil
}
