package shared

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/amarcin/village-units/internal/reconcile"
)

type Config struct {
	AppEnv      string `validate:"required"`
	LogLevel    string `validate:"omitempty,oneof=trace debug info warn error"`
	HTTPAddr    string `validate:"required"`
	MetricsAddr string

	ListingsURL         string        `validate:"required,url"`
	ListingsPageSize    int           `validate:"gte=0"`
	ListingsTermination string        `validate:"oneof=empty short"`
	ListingsRPS         int           `validate:"gt=0"`
	ListingsTimeout     time.Duration `validate:"gt=0"`

	SnapshotLocation string `validate:"required"`
	SnapshotWorkers  int    `validate:"gte=1,lte=64"`
	SnapshotSchedule string
	Timezone         string `validate:"required"`

	LiveCacheTTL    time.Duration `validate:"gt=0"`
	HistoryCacheTTL time.Duration `validate:"gt=0"`
	RedisAddr       string
	RedisPass       string
	RedisDB         int `validate:"gte=0"`
	LocalCacheSize  int `validate:"gte=1"`

	AWSRegion  string
	S3Endpoint string `validate:"omitempty,url"`

	AuthEnabled           bool
	CognitoDomain         string `validate:"required_if=AuthEnabled true"`
	ClientID              string `validate:"required_if=AuthEnabled true"`
	ClientSecret          string
	AppURI                string `validate:"required_if=AuthEnabled true"`
	CognitoUserPoolID     string
	CognitoIdentityPoolID string

	CORSOrigins []string
}

// Load reads the environment, after an optional .env file, and validates
// the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env")
	}

	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    strings.ToLower(env("LOG_LEVEL", "info")),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ""),

		ListingsURL:         env("LISTINGS_URL", "https://api.village.com/units"),
		ListingsPageSize:    atoi("LISTINGS_PAGE_SIZE", 0),
		ListingsTermination: strings.ToLower(env("LISTINGS_TERMINATION", "empty")),
		ListingsRPS:         atoi("LISTINGS_RPS", 5),
		ListingsTimeout:     dur("LISTINGS_TIMEOUT", 20*time.Second),

		SnapshotLocation: env("SNAPSHOT_LOCATION", "./data/lambda-fetch"),
		SnapshotWorkers:  atoi("SNAPSHOT_WORKERS", 4),
		SnapshotSchedule: env("SNAPSHOT_SCHEDULE", ""),
		Timezone:         env("TIMEZONE", reconcile.DefaultZone),

		LiveCacheTTL:    dur("LIVE_CACHE_TTL", 6*time.Hour),
		HistoryCacheTTL: dur("HISTORY_CACHE_TTL", time.Hour),
		RedisAddr:       env("REDIS_ADDR", ""),
		RedisPass:       env("REDIS_PASSWORD", ""),
		RedisDB:         atoi("REDIS_DB", 0),
		LocalCacheSize:  atoi("LOCAL_CACHE_SIZE", 256),

		AWSRegion:  env("AWS_REGION", "us-east-1"),
		S3Endpoint: env("S3_ENDPOINT", ""),

		AuthEnabled:           atob("AUTH_ENABLED", false),
		CognitoDomain:         env("COGNITO_DOMAIN", ""),
		ClientID:              env("CLIENT_ID", ""),
		ClientSecret:          env("CLIENT_SECRET", ""),
		AppURI:                env("APP_URI", ""),
		CognitoUserPoolID:     env("COGNITO_USER_POOL_ID", ""),
		CognitoIdentityPoolID: env("COGNITO_IDENTITY_POOL_ID", ""),

		CORSOrigins: list("CORS_ORIGINS"),
	}
	if err := validator.New().Struct(c); err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	if c.ListingsTermination == "short" && c.ListingsPageSize == 0 {
		return c, fmt.Errorf("config: LISTINGS_TERMINATION=short needs LISTINGS_PAGE_SIZE")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return c, fmt.Errorf("config: TIMEZONE: %w", err)
	}
	return c, nil
}

// Location returns the configured zone; Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoi(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", k).Str("value", v).Msg("ignoring non-integer setting")
	}
	return def
}

func atob(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// dur accepts Go durations ("90m") or bare seconds ("3600").
func dur(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Warn().Str("key", k).Str("value", v).Msg("ignoring invalid duration")
	return def
}

func list(k string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(k), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
