// README: Config loader with env defaults for store backends, geo, and dispatch policy.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type FeeDefaults struct {
	CommissionRate int64
	PlatformFee    int64
}

type DispatchConfig struct {
	// LowBalanceThreshold is the wallet floor below which a driver receives no offers.
	LowBalanceThreshold int64
	// HistoryRetention bounds how long completed trips stay in the live store.
	HistoryRetention time.Duration
	// OpTimeout bounds every lifecycle write before the session re-queries
	// authoritative state.
	OpTimeout time.Duration
}

type Config struct {
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Firebase struct {
		ProjectID       string
		CredentialsFile string
		DatabaseURL     string
	}
	Maps struct {
		APIKey string
	}
	Dispatch DispatchConfig
	Fees     FeeDefaults
}

func Load() (Config, error) {
	// .env is optional; env vars win either way.
	_ = godotenv.Load()

	var cfg Config
	cfg.DB.DSN = envOrDefault("MOTORCAB_DB_DSN", "")
	cfg.Redis.Addr = envOrDefault("MOTORCAB_REDIS_ADDR", "localhost:6379")
	cfg.Firebase.ProjectID = envOrDefault("MOTORCAB_FIREBASE_PROJECT_ID", "")
	cfg.Firebase.CredentialsFile = envOrDefault("MOTORCAB_FIREBASE_CREDENTIALS", "")
	cfg.Firebase.DatabaseURL = envOrDefault("MOTORCAB_FIREBASE_DB_URL", "")
	cfg.Maps.APIKey = envOrDefault("MOTORCAB_MAPS_API_KEY", "")
	cfg.Dispatch.LowBalanceThreshold = envOrDefaultInt64("MOTORCAB_LOW_BALANCE_THRESHOLD", 500)
	cfg.Dispatch.HistoryRetention = envOrDefaultDuration("MOTORCAB_HISTORY_RETENTION", 48*time.Hour)
	cfg.Dispatch.OpTimeout = envOrDefaultDuration("MOTORCAB_OP_TIMEOUT", 10*time.Second)
	cfg.Fees.CommissionRate = envOrDefaultInt64("MOTORCAB_DEFAULT_COMMISSION_RATE", 14)
	cfg.Fees.PlatformFee = envOrDefaultInt64("MOTORCAB_DEFAULT_PLATFORM_FEE", 100)
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
