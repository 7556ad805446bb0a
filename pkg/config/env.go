package config

// EnvPrefix namespaces every environment variable read by envconfig.
const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv     = "STOREFRONT_APP_ENV"
	EnvPort       = "STOREFRONT_APP_PORT"
	EnvDBDSN      = "STOREFRONT_DB_DSN"
	EnvDBHost     = "STOREFRONT_DB_HOST"
	EnvDBUser     = "STOREFRONT_DB_USER"
	EnvDBName     = "STOREFRONT_DB_NAME"
	EnvRedisURL   = "STOREFRONT_REDIS_URL"
	EnvJWTSecret  = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer  = "STOREFRONT_JWT_ISSUER"
	EnvJWTExpMins = "STOREFRONT_JWT_EXPIRATION_MINUTES"

	EnvMercadoPagoToken   = "STOREFRONT_MERCADOPAGO_ACCESS_TOKEN"
	EnvMelhorEnvioToken   = "STOREFRONT_MELHORENVIO_TOKEN"
	EnvMelhorEnvioFromCEP = "STOREFRONT_MELHORENVIO_FROM_CEP"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
