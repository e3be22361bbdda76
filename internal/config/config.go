// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is everything the server and historian read from the environment.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL    string
	MigrateOnStart bool

	RedisAddr string
	RedisDB   int

	HistorianQueue     string
	HistorianBatchSize int
	HistorianFlush     time.Duration

	TokenTTL       string
	AllowedOrigins []string

	DeadlineGrace  time.Duration
	ResultsDelay   time.Duration
	CleanupDelay   time.Duration
	ContentTimeout time.Duration
}

// Load reads the environment. A .env file, if present, is loaded by the binaries
// through godotenv/autoload before this runs.
func Load() (Config, error) {
	c := Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("APP_ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        databaseURL(),
		MigrateOnStart:     getEnvBool("MIGRATE_ON_START", true),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		HistorianQueue:     getEnv("HISTORIAN_QUEUE_NAME", "trivia_room_events"),
		HistorianBatchSize: getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlush:     time.Duration(getEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,
		TokenTTL:           getEnv("TOKEN_EXPIRE_TIME", "never"),
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
	}

	var err error
	if c.DeadlineGrace, err = getEnvDuration("ROOM_DEADLINE_GRACE", 2*time.Second); err != nil {
		return c, err
	}
	if c.ResultsDelay, err = getEnvDuration("ROOM_RESULTS_DELAY", 5*time.Second); err != nil {
		return c, err
	}
	if c.CleanupDelay, err = getEnvDuration("ROOM_CLEANUP_DELAY", 30*time.Second); err != nil {
		return c, err
	}
	if c.ContentTimeout, err = getEnvDuration("ROOM_CONTENT_TIMEOUT", 5*time.Second); err != nil {
		return c, err
	}
	if c.HistorianBatchSize < 1 {
		return c, fmt.Errorf("HISTORIAN_BATCH_SIZE must be positive, got %d", c.HistorianBatchSize)
	}
	return c, nil
}

// Production reports whether APP_ENV is production.
func (c Config) Production() bool {
	return c.Env == "production"
}

// NewLogger builds the process logger: JSON in production, text elsewhere.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if c.Production() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logger.WithField("level", c.LogLevel).Warn("unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// databaseURL prefers DATABASE_URL and otherwise assembles one from the PG_* variables.
func databaseURL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getEnv("POSTGRES_USER", "postgres"), os.Getenv("POSTGRES_PASSWORD")),
		Host:   getEnv("PG_HOST", "localhost") + ":" + getEnv("PG_PORT", "5432"),
		Path:   "/" + getEnv("PG_DATABASE", "trivia"),
	}
	return u.String()
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("30").
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
