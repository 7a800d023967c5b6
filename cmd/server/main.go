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

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/presensi-qr/internal/config"
	"github.com/iliyamo/presensi-qr/internal/database"
	"github.com/iliyamo/presensi-qr/internal/handler"
	"github.com/iliyamo/presensi-qr/internal/jobs"
	"github.com/iliyamo/presensi-qr/internal/logger"
	"github.com/iliyamo/presensi-qr/internal/middleware"
	"github.com/iliyamo/presensi-qr/internal/qrtoken"
	"github.com/iliyamo/presensi-qr/internal/queue"
	"github.com/iliyamo/presensi-qr/internal/ratelimit"
	"github.com/iliyamo/presensi-qr/internal/repository"
	"github.com/iliyamo/presensi-qr/internal/router"
	"github.com/iliyamo/presensi-qr/internal/service"
	"github.com/iliyamo/presensi-qr/internal/sitetime"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	qrCfg := config.LoadQRConfig()
	jobsCfg := config.LoadJobsConfig()
	lg := logger.New("presensi", cfg.LogLevel)

	zone, err := sitetime.New(cfg.Engine.SiteOffset)
	if err != nil {
		lg.Fatalf("site offset: %v", err)
	}
	codec, err := qrtoken.New(cfg.Engine.QRSecret, qrCfg.Validity)
	if err != nil {
		lg.Fatalf("qr codec: %v (set QR_SECRET or JWT_SECRET)", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		lg.Fatalf("database: %v", err)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		dialect := database.DialectMySQL
		if cfg.DBDriver == config.DriverSQLite {
			dialect = database.DialectSQLite
		}
		applied, err := database.Migrate(context.Background(), db, dialect)
		if err != nil {
			lg.Fatalf("migrate: %v", err)
		}
		lg.Infof("migrations applied: %v", applied)
	}

	rdb := config.NewRedisClient()
	var (
		limiter ratelimit.Limiter
		pruner  jobs.Pruner
	)
	if rdb != nil {
		defer rdb.Close()
		limiter = ratelimit.NewRedis(rdb, qrCfg.IssueInterval, qrCfg.LimiterPrefix)
	} else {
		lg.Warnf("redis unreachable at %s: QR throttling is per process, HTTP rate limit and cache are off", config.RedisAddr())
		mem := ratelimit.NewMemory(qrCfg.IssueInterval)
		limiter, pruner = mem, mem
	}

	users := repository.NewUserRepo(db)
	sessions := repository.NewSessionRepo(db)
	attendance := repository.NewAttendanceRepo(db)

	policy := service.Policy{
		Zone:            zone,
		OnTime:          service.Clock{Hour: cfg.Engine.OnTimeCutoff.Hour, Minute: cfg.Engine.OnTimeCutoff.Minute},
		Allowance:       service.Clock{Hour: cfg.Engine.AllowanceCutoff.Hour, Minute: cfg.Engine.AllowanceCutoff.Minute},
		AllowanceAmount: cfg.Engine.AllowanceAmount,
	}
	var events service.EventPublisher
	if jobsCfg.EventsEnabled {
		events = queue.NewPublisher(queue.BrokerURL()).WithTimeout(jobsCfg.PublishTimeout)
	}
	scanner := service.NewScanner(codec, users, service.SQLScanStore{Repo: attendance}, policy, events, lg).
		WithPublishTimeout(jobsCfg.PublishTimeout)
	summaryCutoff := service.Clock{Hour: cfg.Engine.SummaryCutoff.Hour, Minute: cfg.Engine.SummaryCutoff.Minute}

	e := echo.New()
	e.HideBanner = true
	e.Logger = lg
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			if v.Error != nil {
				lg.Warnf("%s %s %d %s: %v", v.Method, v.URI, v.Status, v.Latency, v.Error)
				return nil
			}
			lg.Infof("%s %s %d %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))
	e.Use(middleware.NewRateLimiter(config.LoadRateLimitConfig(), rdb))

	auth := middleware.JWTAuth(cfg.JWTSecret, sessions)
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb)
	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, sessions), auth)
	router.RegisterAttendance(e, &handler.AttendanceHandler{
		Zone:       zone,
		Issuer:     service.NewIssuer(codec, limiter),
		History:    service.NewHistoryService(attendance, zone),
		Summary:    service.NewSummaryService(users, attendance, zone, summaryCutoff),
		Allowances: service.NewAllowanceService(repository.NewAllowanceRepo(db)),
	}, auth, cache.Read())
	router.RegisterSecurity(e, &handler.SecurityHandler{Scanner: scanner}, auth, cache.PurgeOnSuccess())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := jobs.NewCron(zone)
	schedule := jobs.Schedule{Pruner: pruner, PruneSpec: qrCfg.PruneSchedule}
	if jobsCfg.SweepEnabled {
		schedule.Sweeper = jobs.NewSweeper(attendance, zone, lg)
		schedule.SweepSpec = jobsCfg.SweepSchedule
	}
	if err := jobs.Register(sched, schedule, lg); err != nil {
		lg.Fatalf("cron: %v", err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	if jobsCfg.ScanConsumerEnabled {
		go func() {
			if err := queue.StartScanConsumer(ctx, queue.BrokerURL(), jobsCfg.ScanLogPath, lg); err != nil && !errors.Is(err, context.Canceled) {
				lg.Errorf("scan consumer stopped: %v", err)
			}
		}()
	}

	go func() {
		addr := ":" + cfg.Port
		lg.Infof("listening on %s (env=%s, db=%s, site offset=%s)", addr, cfg.Env, cfg.DBDriver, zone.Offset())
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	lg.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		lg.Errorf("shutdown: %v", err)
	}
}

func openDB(cfg config.Config) (*sql.DB, error) {
	if cfg.DBDriver == config.DriverSQLite {
		return database.OpenSQLite(cfg.SQLitePath)
	}
	return database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
}
