// Package config loads application configuration from environment
// variables.  A .env file in the working directory is read first when
// present; variables already set in the environment win.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database drivers accepted in DB_DRIVER.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config holds the runtime configuration of the server and the CLI.
type Config struct {
	Env          string // application environment (dev, test, prod)
	Port         string // HTTP port to listen on
	LogLevel     string // debug, info, warn, error, off
	DBDriver     string // mysql or sqlite
	DBUser       string
	DBPass       string // may be empty
	DBHost       string
	DBPort       string
	DBName       string
	SQLitePath   string // database file when DBDriver is sqlite
	AutoMigrate  bool   // apply embedded migrations at startup
	JWTSecret    string
	AccessTTLMin int // access token lifetime in minutes
	BcryptCost   int
	Engine       EngineConfig
}

// HourMinute is a site-local wall clock time of day.
type HourMinute struct {
	Hour   int
	Minute int
}

func (hm HourMinute) String() string { return fmt.Sprintf("%02d:%02d", hm.Hour, hm.Minute) }

// ParseHourMinute parses "HH:MM" (24h clock).
func ParseHourMinute(s string) (HourMinute, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return HourMinute{}, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return HourMinute{}, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return HourMinute{Hour: hour, Minute: minute}, nil
}

// EngineConfig holds the attendance rules.  QRSecret may be empty here;
// the token codec refuses to start without one.
type EngineConfig struct {
	QRSecret        string
	SiteOffset      time.Duration
	OnTimeCutoff    HourMinute
	AllowanceCutoff HourMinute
	AllowanceAmount int64
	SummaryCutoff   HourMinute
}

// LoadDotEnv reads .env when it exists.  A missing file is not an error.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}
}

// Load reads the configuration.  Required variables are enforced by must()
// and missing or malformed values stop the program with a fatal log.
func Load() Config {
	cfg := Config{
		Env:          envStr("APP_ENV", "dev"),
		Port:         envStr("APP_PORT", "8080"),
		LogLevel:     envStr("LOG_LEVEL", "info"),
		DBDriver:     strings.ToLower(envStr("DB_DRIVER", DriverMySQL)),
		JWTSecret:    must("JWT_SECRET"),
		AccessTTLMin: envInt("ACCESS_TOKEN_TTL_MIN", 60*12),
		BcryptCost:   envInt("BCRYPT_COST", 10),
		AutoMigrate:  envBool("DB_AUTO_MIGRATE", false),
	}
	switch cfg.DBDriver {
	case DriverMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	case DriverSQLite:
		cfg.SQLitePath = envStr("SQLITE_PATH", "data/presensi.db")
	default:
		log.Fatalf("unsupported DB_DRIVER %q (want mysql or sqlite)", cfg.DBDriver)
	}
	eng, err := LoadEngineConfig()
	if err != nil {
		log.Fatalf("engine config: %v", err)
	}
	cfg.Engine = eng
	return cfg
}

// LoadTooling reads the configuration used by offline tools.  It does not
// require JWT_SECRET and reports problems as errors instead of exiting.
// The MySQL variables are checked only when the driver is mysql.
func LoadTooling() (Config, error) {
	cfg := Config{
		Env:        envStr("APP_ENV", "dev"),
		LogLevel:   envStr("LOG_LEVEL", "info"),
		DBDriver:   strings.ToLower(envStr("DB_DRIVER", DriverMySQL)),
		DBUser:     os.Getenv("DB_USER"),
		DBPass:     os.Getenv("DB_PASS"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBName:     os.Getenv("DB_NAME"),
		SQLitePath: envStr("SQLITE_PATH", "data/presensi.db"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		BcryptCost: envInt("BCRYPT_COST", 10),
	}
	eng, err := LoadEngineConfig()
	if err != nil {
		return Config{}, err
	}
	cfg.Engine = eng
	return cfg, nil
}

// ValidateDB reports the first missing database setting for the driver.
func (c Config) ValidateDB() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is empty")
		}
	case DriverMySQL:
		for _, v := range []struct{ key, val string }{
			{"DB_USER", c.DBUser}, {"DB_HOST", c.DBHost}, {"DB_PORT", c.DBPort}, {"DB_NAME", c.DBName},
		} {
			if v.val == "" {
				return fmt.Errorf("missing required env var: %s", v.key)
			}
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want mysql or sqlite)", c.DBDriver)
	}
	return nil
}

// LoadEngineConfig reads the attendance rules.  QR_SECRET falls back to
// JWT_SECRET.
func LoadEngineConfig() (EngineConfig, error) {
	eng := EngineConfig{
		QRSecret:        os.Getenv("QR_SECRET"),
		AllowanceAmount: int64(envInt("ALLOWANCE_AMOUNT", 35000)),
	}
	if eng.QRSecret == "" {
		eng.QRSecret = os.Getenv("JWT_SECRET")
	}
	off, err := time.ParseDuration(envStr("SITE_UTC_OFFSET", "8h"))
	if err != nil {
		return EngineConfig{}, fmt.Errorf("SITE_UTC_OFFSET: %w", err)
	}
	eng.SiteOffset = off
	if eng.AllowanceAmount < 0 {
		return EngineConfig{}, fmt.Errorf("ALLOWANCE_AMOUNT must not be negative")
	}
	for _, c := range []struct {
		key, def string
		dst      *HourMinute
	}{
		{"ON_TIME_CUTOFF", "08:00", &eng.OnTimeCutoff},
		{"ALLOWANCE_CUTOFF", "08:01", &eng.AllowanceCutoff},
		{"SUMMARY_CUTOFF", "08:00", &eng.SummaryCutoff},
	} {
		hm, err := ParseHourMinute(envStr(c.key, c.def))
		if err != nil {
			return EngineConfig{}, fmt.Errorf("%s: %w", c.key, err)
		}
		*c.dst = hm
	}
	return eng, nil
}

// QRConfig controls QR issuance.
type QRConfig struct {
	IssueInterval time.Duration // minimum gap between two tokens of one user
	Validity      time.Duration // how long a checkpoint accepts a token
	LimiterPrefix string        // Redis key prefix of the issuance limiter
	PruneSchedule string        // cron spec pruning the in-memory limiter
}

func LoadQRConfig() QRConfig {
	return QRConfig{
		IssueInterval: envDur("QR_ISSUE_INTERVAL", 10*time.Second),
		Validity:      envDur("QR_VALIDITY", 60*time.Second),
		LimiterPrefix: envStr("QR_LIMITER_PREFIX", "qr-issue"),
		PruneSchedule: envStr("QR_LIMITER_PRUNE_SCHEDULE", "@every 1m"),
	}
}

// JobsConfig controls background work started by the server.
type JobsConfig struct {
	SweepEnabled        bool
	SweepSchedule       string // cron spec read in the site offset
	EventsEnabled       bool   // publish scan events to RabbitMQ
	PublishTimeout      time.Duration
	ScanConsumerEnabled bool
	ScanLogPath         string
}

func LoadJobsConfig() JobsConfig {
	return JobsConfig{
		SweepEnabled:        envBool("SWEEP_ENABLED", true),
		SweepSchedule:       envStr("SWEEP_SCHEDULE", "5 0 * * *"),
		EventsEnabled:       envBool("EVENTS_ENABLED", true),
		PublishTimeout:      envDur("EVENTS_PUBLISH_TIMEOUT", 2*time.Second),
		ScanConsumerEnabled: envBool("SCAN_CONSUMER_ENABLED", false),
		ScanLogPath:         envStr("SCAN_LOG_PATH", "logs/attendance.log"),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
