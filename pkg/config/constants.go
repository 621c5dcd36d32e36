package config

// EnvPrefix is applied by envconfig to every variable lookup.
const EnvPrefix = "GGMARKET"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "GGMARKET_DB_DSN"
	EnvDBHost = "GGMARKET_DB_HOST"
	EnvDBUser = "GGMARKET_DB_USER"
	EnvDBName = "GGMARKET_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
