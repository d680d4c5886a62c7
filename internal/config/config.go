package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper). Everything is passed
// explicitly into constructors; nothing reads the process environment after
// Load returns.
type Config struct {
	Env                 string
	Port                string
	DatabaseURL         string
	RedisURL            string
	LedgerMode          string // "memory" (dev) or "rpc"
	LedgerRPCURL        string
	LedgerTimeout       time.Duration
	KeysFile            string // YAML keystore for per-account signing keys
	UploadsDir          string // archive directory for submitted documents
	FrontendURLEndsWith string
	DevPassword         string
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	port := viper.GetString("PORT")
	if port == "" {
		port = "8080"
	}
	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL_DEV")
	if env == "production" {
		dbURL = viper.GetString("DATABASE_URL_PROD")
	} else if env == "test" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}

	ledgerMode := strings.ToLower(viper.GetString("LEDGER_MODE"))
	if ledgerMode == "" {
		ledgerMode = "memory"
	}

	timeout := viper.GetDuration("LEDGER_TIMEOUT")
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	uploads := viper.GetString("UPLOADS_DIR")
	if uploads == "" {
		uploads = "uploads"
	}

	return &Config{
		Env:                 env,
		Port:                port,
		DatabaseURL:         dbURL,
		RedisURL:            viper.GetString("REDIS_URL"),
		LedgerMode:          ledgerMode,
		LedgerRPCURL:        viper.GetString("LEDGER_RPC_URL"),
		LedgerTimeout:       timeout,
		KeysFile:            viper.GetString("KEYS_FILE"),
		UploadsDir:          uploads,
		FrontendURLEndsWith: viper.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:         viper.GetString("DEV_PASSWORD"),
	}, nil
}
