package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/litigio/comunicasync/internal/analytics"
	"github.com/litigio/comunicasync/internal/api"
	"github.com/litigio/comunicasync/internal/circuitbreaker"
	"github.com/litigio/comunicasync/internal/cnj"
	"github.com/litigio/comunicasync/internal/config"
	"github.com/litigio/comunicasync/internal/cron"
	"github.com/litigio/comunicasync/internal/ingest"
	"github.com/litigio/comunicasync/internal/leaderelection"
	"github.com/litigio/comunicasync/internal/metrics"
	"github.com/litigio/comunicasync/internal/notifier"
	"github.com/litigio/comunicasync/internal/runner"
	"github.com/litigio/comunicasync/internal/scheduler"
	"github.com/litigio/comunicasync/internal/store/postgres"
	"github.com/litigio/comunicasync/internal/sweeper"
	"github.com/litigio/comunicasync/internal/transport/channel"

	_ "github.com/lib/pq"
)

// schedulerCronParser adapts internal/cron.Parser to scheduler.CronParser.
type schedulerCronParser struct {
	parser *cron.Parser
}

func (a *schedulerCronParser) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// runnerCronParser adapts internal/cron.Parser to runner.CronParser.
type runnerCronParser struct {
	parser *cron.Parser
}

func (a *runnerCronParser) Parse(expression string, timezone string) (runner.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`comunicasync - scheduled synchronization of judicial communications

Usage:
  comunicasync <command>

Commands:
  serve      Start the scheduler, runner and HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL                PostgreSQL connection string (required)
  REDIS_ADDR                  Redis address for analytics (optional)
  HTTP_ADDR                   HTTP server address (default: ":8080")

  CNJ_BASE_URL                External source base URL
  CNJ_RATE_LIMIT              Max source requests per minute (default: "60")
  CNJ_TIMEOUT                 Source request timeout (default: "30s")
  DEFAULT_TIMEZONE            Fallback timezone (default: "America/Sao_Paulo")

  DB_OP_TIMEOUT               Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS           Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS           Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME        Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME       Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT       Graceful HTTP shutdown timeout (default: "10s")
  RUNNER_DRAIN_TIMEOUT        Runner request drain timeout (default: "30s")
  RUNBUS_BUFFER_SIZE          Run request buffer size (default: "100")

  METRICS_ENABLED             Enable Prometheus metrics (default: "false")
  METRICS_PATH                Metrics endpoint path (default: "/metrics")

  SCHEDULER_REFRESH_INTERVAL  Timer registry refresh interval (default: "1m")
  SWEEPER_INTERVAL            How often to scan for abandoned runs (default: "5m")
  SWEEPER_THRESHOLD           Age before a running run is abandoned (default: "1h")
  SWEEPER_BATCH_SIZE          Max abandoned runs per cycle (default: "100")

  CIRCUIT_BREAKER_THRESHOLD   Source failures before opening (default: "5", "0" disables)
  CIRCUIT_BREAKER_COOLDOWN    Open-state cooldown (default: "2m")
  WEBHOOK_TIMEOUT             Webhook delivery timeout (default: "30s")
  ANALYTICS_RETENTION         Redis counter retention (default: "720h")

  LEADER_LOCK_KEY             Advisory lock key shared by all instances
  LEADER_RETRY_INTERVAL       Follower acquisition retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL   Leader connection heartbeat (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("comunicasync: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	defaultLoc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		// Validate() already checked this; a broken tz database is fatal.
		fmt.Fprintf(os.Stderr, "failed to load default timezone: %v\n", err)
		return exitRuntimeError
	}
	cronParser := cron.NewParser(defaultLoc)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("comunicasync: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("comunicasync: METRICS_ENABLED not set; metrics disabled")
	}

	// Create run request bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewRunBus(cfg.RunBusBufferSize, busOpts...)

	// External source client with rate limiting and circuit breaker
	source := cnj.New(cfg.SourceBaseURL, cfg.SourceRateLimit, cfg.SourceTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		source = source.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("comunicasync: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	} else {
		log.Println("comunicasync: CIRCUIT_BREAKER_THRESHOLD=0; circuit breaker disabled")
	}
	if metricsSink != nil {
		source = source.WithMetrics(metricsSink)
	}

	ingestSink := ingest.New(store)
	if metricsSink != nil {
		ingestSink = ingestSink.WithMetrics(metricsSink)
	}

	notif := notifier.New(notifier.NewHTTPSender()).
		WithDefaultTimeout(cfg.WebhookTimeout)
	if metricsSink != nil {
		notif = notif.WithMetrics(metricsSink)
	}

	run := runner.New(store, source, ingestSink, notif, &runnerCronParser{parser: cronParser}).
		WithDrainTimeout(cfg.RunnerDrainTimeout)
	if metricsSink != nil {
		run = run.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient, cfg.AnalyticsRetention)
		run = run.WithAnalytics(sink)
		log.Printf("comunicasync: analytics enabled (redis=%s, retention=%s)", cfg.RedisAddr, cfg.AnalyticsRetention)
	} else {
		log.Println("comunicasync: REDIS_ADDR not set; analytics disabled")
	}

	sched := scheduler.New(store, &schedulerCronParser{parser: cronParser}, bus)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	sweep := sweeper.New(sweeper.Config{
		Interval:  cfg.SweeperInterval,
		Threshold: cfg.SweeperThreshold,
		BatchSize: cfg.SweeperBatchSize,
	}, store)
	if metricsSink != nil {
		sweep = sweep.WithMetrics(metricsSink)
	}

	// HTTP API serves on every instance; timers and the sweeper run on
	// the leader only.
	apiHandler := api.NewHandler(store, source, bus).WithHealthChecker(db)
	mux := http.NewServeMux()
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("comunicasync: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("comunicasync: http server error: %v", err)
		}
	}()

	// The runner consumes the bus on every instance so that manual
	// triggers accepted locally execute locally.
	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	var runnerWg sync.WaitGroup
	runnerWg.Add(1)
	go func() {
		defer runnerWg.Done()
		run.Run(runnerCtx, bus.Channel())
	}()

	// Leader duties: timer registry and sweeper.
	var leaderWg sync.WaitGroup
	onElected := func(leaderCtx context.Context) {
		leaderWg.Add(2)
		go func() {
			defer leaderWg.Done()
			if err := sched.Run(leaderCtx, cfg.SchedulerRefreshInterval); err != nil && leaderCtx.Err() == nil {
				log.Printf("comunicasync: scheduler stopped: %v", err)
			}
		}()
		go func() {
			defer leaderWg.Done()
			sweep.Run(leaderCtx)
		}()
	}
	onDemoted := func() {
		leaderWg.Wait()
	}

	elector := leaderelection.New(db, cfg.LeaderLockKey,
		cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval,
		onElected, onDemoted)
	if metricsSink != nil {
		elector = elector.WithMetrics(metricsSink)
	}

	electorCtx, cancelElector := context.WithCancel(context.Background())
	var electorWg sync.WaitGroup
	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(electorCtx)
	}()

	log.Printf("comunicasync: started (refresh=%s, http=%s)", cfg.SchedulerRefreshInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("comunicasync: received signal %v, shutting down", received)

	// Phase 1: Stop leader duties (no new timer fires, no sweeps)
	log.Println("comunicasync: stopping leader duties...")
	cancelElector()
	electorWg.Wait()
	leaderWg.Wait()
	log.Println("comunicasync: leader duties stopped")

	// Phase 2: Stop runner (will drain buffered run requests before returning)
	log.Println("comunicasync: stopping runner (draining requests)...")
	cancelRunner()
	runnerWg.Wait()
	log.Println("comunicasync: runner stopped")

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("comunicasync: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("comunicasync: http server shutdown error: %v", err)
	}
	log.Println("comunicasync: http server stopped")

	log.Println("comunicasync: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("comunicasync version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
