package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Payment     PaymentConfig
	Providers   map[string]ProviderConfig
	Cron        CronConfig
	Credentials CredentialsConfig
	API         APIConfig
	Notify      NotifyConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Driver  string // "mysql", "postgres", "memory"
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
	SSLMode string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type PaymentConfig struct {
	MaxAttempts               int
	DefaultExpirationMinutes  int
	ConfirmationFailurePolicy string // "reopen", "terminal"
	CallbackBaseURL           string
	LockTTL                   time.Duration
	WebhookDedupTTL           time.Duration
	BatchSize                 int
}

// ProviderConfig tunes the outbound client of one gateway adapter.
type ProviderConfig struct {
	Timeout    time.Duration
	RetryCount int
	BaseURL    string
}

type CronConfig struct {
	ExpirySchedule    string
	ReconcileSchedule string
	ReconcileAfter    time.Duration
	JobTimeout        time.Duration
}

type CredentialsConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

type APIConfig struct {
	// TenantKeys maps SHA-256 hex digests of API keys to tenant ids.
	TenantKeys map[string]string
	RateLimit  float64
	RateBurst  int
}

type NotifyConfig struct {
	TelegramToken   string
	TelegramChatID  string
	TelegramBaseURL string
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()
	setDefaults()

	tenantKeys, err := parseTenantKeys(viper.GetString("TENANT_API_KEYS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: loadDatabase(),
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		Payment: PaymentConfig{
			MaxAttempts:               viper.GetInt("PAYMENT_MAX_ATTEMPTS"),
			DefaultExpirationMinutes:  viper.GetInt("PAYMENT_DEFAULT_EXPIRATION_MINUTES"),
			ConfirmationFailurePolicy: strings.ToLower(viper.GetString("PAYMENT_CONFIRMATION_FAILURE_POLICY")),
			CallbackBaseURL:           strings.TrimRight(viper.GetString("PAYMENT_CALLBACK_BASE_URL"), "/"),
			LockTTL:                   duration("PAYMENT_LOCK_TTL", time.Minute),
			WebhookDedupTTL:           duration("WEBHOOK_DEDUP_TTL", 24*time.Hour),
			BatchSize:                 viper.GetInt("PAYMENT_SWEEP_BATCH_SIZE"),
		},
		Providers: map[string]ProviderConfig{
			"midtrans":    provider("MIDTRANS"),
			"xendit":      provider("XENDIT"),
			"nowpayments": provider("NOWPAYMENTS"),
		},
		Cron: CronConfig{
			ExpirySchedule:    viper.GetString("CRON_EXPIRY_SCHEDULE"),
			ReconcileSchedule: viper.GetString("CRON_RECONCILE_SCHEDULE"),
			ReconcileAfter:    duration("CRON_RECONCILE_AFTER", 10*time.Minute),
			JobTimeout:        duration("CRON_JOB_TIMEOUT", 2*time.Minute),
		},
		Credentials: CredentialsConfig{
			CacheSize: viper.GetInt("CREDENTIAL_CACHE_SIZE"),
			CacheTTL:  duration("CREDENTIAL_CACHE_TTL", 5*time.Minute),
		},
		API: APIConfig{
			TenantKeys: tenantKeys,
			RateLimit:  viper.GetFloat64("API_RATE_LIMIT"),
			RateBurst:  viper.GetInt("API_RATE_BURST"),
		},
		Notify: NotifyConfig{
			TelegramToken:   viper.GetString("TELEGRAM_BOT_TOKEN"),
			TelegramChatID:  viper.GetString("TELEGRAM_CHAT_ID"),
			TelegramBaseURL: viper.GetString("TELEGRAM_API_URL"),
		},
	}

	switch cfg.Payment.ConfirmationFailurePolicy {
	case "reopen", "terminal":
	default:
		return nil, fmt.Errorf("invalid PAYMENT_CONFIRMATION_FAILURE_POLICY %q", cfg.Payment.ConfirmationFailurePolicy)
	}
	if cfg.Payment.MaxAttempts < 1 {
		return nil, fmt.Errorf("PAYMENT_MAX_ATTEMPTS must be at least 1, got %d", cfg.Payment.MaxAttempts)
	}

	if cfg.Database.Driver != "memory" && cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if len(cfg.API.TenantKeys) == 0 {
		log.Println("WARNING: TENANT_API_KEYS is not set, every API call will be rejected")
	}
	if cfg.Payment.CallbackBaseURL == "" {
		log.Println("WARNING: PAYMENT_CALLBACK_BASE_URL is not set, providers fall back to dashboard webhooks")
	}

	return cfg, nil
}

// LoadDatabaseOnly reads just the database settings, for schema bootstrap runs.
func LoadDatabaseOnly() (*DatabaseConfig, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()
	setDefaults()

	db := loadDatabase()
	if db.Driver == "memory" {
		return nil, fmt.Errorf("DB_DRIVER=memory has no schema to bootstrap")
	}
	return &db, nil
}

func setDefaults() {
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_DRIVER", "mysql")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("PAYMENT_MAX_ATTEMPTS", 3)
	viper.SetDefault("PAYMENT_DEFAULT_EXPIRATION_MINUTES", 1440)
	viper.SetDefault("PAYMENT_CONFIRMATION_FAILURE_POLICY", "reopen")
	viper.SetDefault("PAYMENT_SWEEP_BATCH_SIZE", 100)
	viper.SetDefault("CRON_EXPIRY_SCHEDULE", "0 * * * * *")
	viper.SetDefault("CRON_RECONCILE_SCHEDULE", "30 */2 * * * *")
	viper.SetDefault("CREDENTIAL_CACHE_SIZE", 1024)
	viper.SetDefault("API_RATE_LIMIT", 20.0)
	viper.SetDefault("API_RATE_BURST", 40)
	viper.SetDefault("TELEGRAM_API_URL", "https://api.telegram.org")
	viper.SetDefault("GATEWAY_RETRY_COUNT", 0)
}

func loadDatabase() DatabaseConfig {
	driver := strings.ToLower(viper.GetString("DB_DRIVER"))
	port := viper.GetString("DB_PORT")
	if port == "" {
		port = "3306"
		if driver == "postgres" {
			port = "5432"
		}
	}
	return DatabaseConfig{
		Driver:  driver,
		Host:    viper.GetString("DB_HOST"),
		Port:    port,
		Name:    viper.GetString("DB_NAME"),
		User:    viper.GetString("DB_USER"),
		Pass:    viper.GetString("DB_PASS"),
		Charset: viper.GetString("DB_CHARSET"),
		SSLMode: viper.GetString("DB_SSLMODE"),
	}
}

// provider reads PREFIX_TIMEOUT, PREFIX_RETRY_COUNT and PREFIX_BASE_URL.
// A zero timeout leaves the adapter's own default in place; the retry count
// falls back to GATEWAY_RETRY_COUNT.
func provider(prefix string) ProviderConfig {
	retries := viper.GetInt("GATEWAY_RETRY_COUNT")
	if viper.IsSet(prefix + "_RETRY_COUNT") {
		retries = viper.GetInt(prefix + "_RETRY_COUNT")
	}
	return ProviderConfig{
		Timeout:    duration(prefix+"_TIMEOUT", 0),
		RetryCount: retries,
		BaseURL:    viper.GetString(prefix + "_BASE_URL"),
	}
}

func duration(key string, fallback time.Duration) time.Duration {
	raw := viper.GetString(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("WARNING: invalid %s %q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}

// parseTenantKeys reads "tenant:sha256hex,tenant:sha256hex".
func parseTenantKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tenant, hash, ok := strings.Cut(pair, ":")
		tenant, hash = strings.TrimSpace(tenant), strings.ToLower(strings.TrimSpace(hash))
		if !ok || tenant == "" || len(hash) != 64 {
			return nil, fmt.Errorf("invalid TENANT_API_KEYS entry %q", pair)
		}
		keys[hash] = tenant
	}
	return keys, nil
}

// DSN returns the driver-specific DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			d.Host, d.Port, d.User, d.Pass, d.Name, d.SSLMode)
	}
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=UTC"
}
