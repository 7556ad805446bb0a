package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	MercadoPago  MercadoPagoConfig
	MelhorEnvio  MelhorEnvioConfig
	Shipments    ShipmentsConfig
	Mail         MailConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	PublicURL    string `envconfig:"STOREFRONT_APP_PUBLIC_URL"`
	FrontendURL  string `envconfig:"STOREFRONT_APP_FRONTEND_URL"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" required:"true"`
}

type MercadoPagoConfig struct {
	AccessToken    string        `envconfig:"STOREFRONT_MERCADOPAGO_ACCESS_TOKEN" required:"true"`
	BaseURL        string        `envconfig:"STOREFRONT_MERCADOPAGO_BASE_URL" default:"https://api.mercadopago.com"`
	RequestTimeout time.Duration `envconfig:"STOREFRONT_MERCADOPAGO_REQUEST_TIMEOUT" default:"15s"`
	MaxAttempts    int           `envconfig:"STOREFRONT_MERCADOPAGO_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"STOREFRONT_MERCADOPAGO_RETRY_BASE_DELAY" default:"250ms"`
	WebhookPath    string        `envconfig:"STOREFRONT_MERCADOPAGO_WEBHOOK_PATH" default:"/api/v1/webhooks/mercadopago"`
}

type MelhorEnvioConfig struct {
	Token          string        `envconfig:"STOREFRONT_MELHORENVIO_TOKEN" required:"true"`
	BaseURL        string        `envconfig:"STOREFRONT_MELHORENVIO_BASE_URL" default:"https://melhorenvio.com.br/api/v2"`
	UserAgent      string        `envconfig:"STOREFRONT_MELHORENVIO_USER_AGENT" default:"storefront-backend (suporte@negomaq.com.br)"`
	FromCEP        string        `envconfig:"STOREFRONT_MELHORENVIO_FROM_CEP" required:"true"`
	RequestTimeout time.Duration `envconfig:"STOREFRONT_MELHORENVIO_REQUEST_TIMEOUT" default:"20s"`
	MaxAttempts    int           `envconfig:"STOREFRONT_MELHORENVIO_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"STOREFRONT_MELHORENVIO_RETRY_BASE_DELAY" default:"500ms"`
}

type ShipmentsConfig struct {
	WorkerCount       int           `envconfig:"STOREFRONT_SHIPMENTS_WORKER_COUNT" default:"4"`
	QueueSize         int           `envconfig:"STOREFRONT_SHIPMENTS_QUEUE_SIZE" default:"64"`
	JobTimeout        time.Duration `envconfig:"STOREFRONT_SHIPMENTS_JOB_TIMEOUT" default:"2m"`
	PriceToleranceBRL string        `envconfig:"STOREFRONT_SHIPMENTS_PRICE_TOLERANCE_BRL" default:"0.50"`
}

type MailConfig struct {
	APIKey      string `envconfig:"STOREFRONT_MAIL_API_KEY"`
	BaseURL     string `envconfig:"STOREFRONT_MAIL_BASE_URL" default:"https://api.sendgrid.com"`
	DefaultFrom string `envconfig:"STOREFRONT_MAIL_FROM_EMAIL"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOREFRONT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
