package app

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/precifica/precifica/internal/mlsync"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15m"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"10m"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisAddr   string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`

	JWTSecret string `envconfig:"JWT_SECRET"`

	MLBaseURL       string `envconfig:"ML_API_BASE_URL" default:"https://api.mercadolibre.com"`
	MLClientID      string `envconfig:"ML_CLIENT_ID"`
	MLClientSecret  string `envconfig:"ML_CLIENT_SECRET"`
	MLWebhookSecret string `envconfig:"ML_WEBHOOK_SECRET"`
	// MLWriteEnabled stays a raw string; only the exact value "true" enables writes.
	MLWriteEnabled         string        `envconfig:"ML_WRITE_ENABLED"`
	MLPriceMargin          float64       `envconfig:"ML_PRICE_MARGIN" default:"1"`
	MLImportConcurrency    int           `envconfig:"ML_IMPORT_CONCURRENCY" default:"5"`
	MLBatchConcurrency     int           `envconfig:"ML_SYNC_BATCH_CONCURRENCY" default:"1"`
	MLRetries              int           `envconfig:"ML_RETRIES" default:"3"`
	MLRetryBaseDelay       time.Duration `envconfig:"ML_RETRY_BASE_DELAY" default:"500ms"`
	MLRequestTimeout       time.Duration `envconfig:"ML_REQUEST_TIMEOUT" default:"30s"`
	CategoryCacheTTL       time.Duration `envconfig:"CATEGORY_CACHE_TTL" default:"24h"`
	TokenRenewalWindow     time.Duration `envconfig:"TOKEN_RENEWAL_WINDOW" default:"2h"`
	TokenRenewalCron       string        `envconfig:"TOKEN_RENEWAL_CRON" default:"*/30 * * * *"`
	WorkerConcurrency      int           `envconfig:"WORKER_CONCURRENCY" default:"5"`
	APIRateLimitPerMinute  int           `envconfig:"API_RATE_LIMIT_PER_MINUTE" default:"120"`
	SyncRateLimitPerMinute int           `envconfig:"SYNC_RATE_LIMIT_PER_MINUTE" default:"30"`
	WebhookRateLimit       int           `envconfig:"WEBHOOK_RATE_LIMIT_PER_MINUTE" default:"600"`
}

// Required variable sets. The server needs everything the HTTP surface
// touches; the worker only what the background jobs use.
var (
	ServerRequired = []string{"DATABASE_URL", "JWT_SECRET", "ML_CLIENT_ID", "ML_CLIENT_SECRET", "ML_WEBHOOK_SECRET"}
	WorkerRequired = []string{"DATABASE_URL", "REDIS_ADDR", "ML_CLIENT_ID", "ML_CLIENT_SECRET"}
)

// MissingConfigError lists every required variable that was empty.
type MissingConfigError struct {
	Vars []string
}

func (e *MissingConfigError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Vars, ", ")
}

// LoadConfig reads an optional .env file, then the environment, and checks
// that every variable in required is set.
func LoadConfig(required []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(required); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports all empty required variables at once.
func (c *Config) Validate(required []string) error {
	values := c.byEnvName()
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(values[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingConfigError{Vars: missing}
	}
	if c.MLPriceMargin <= 0 {
		return fmt.Errorf("ML_PRICE_MARGIN must be positive, got %v", c.MLPriceMargin)
	}
	return nil
}

func (c *Config) byEnvName() map[string]string {
	out := make(map[string]string)
	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("envconfig")
		if name == "" {
			continue
		}
		out[name] = fmt.Sprint(v.Field(i).Interface())
	}
	return out
}

// WriteEnabled converts ML_WRITE_ENABLED once at startup.
func (c *Config) WriteEnabled() bool {
	return c != nil && mlsync.ParseWriteEnabled(c.MLWriteEnabled)
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
