package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env      string `mapstructure:"HRS_ENV"`
	HTTPAddr string `mapstructure:"HRS_HTTP_ADDR"`

	Market   MarketConfig   `mapstructure:",squash"`
	Database DBConfig       `mapstructure:",squash"`
	Cache    CacheConfig    `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type MarketConfig struct {
	// OwnerAddress is the only identity allowed to change auction settings.
	OwnerAddress string `mapstructure:"HRS_OWNER_ADDRESS"`
	// EscrowAccount is the identity the marketplace holds assets and bids
	// under at the registry and the ledger.
	EscrowAccount   string        `mapstructure:"HRS_ESCROW_ACCOUNT"`
	AuctionDuration time.Duration `mapstructure:"HRS_AUCTION_DURATION"`
	MinBids         uint64        `mapstructure:"HRS_MIN_BIDS"`
}

type DBConfig struct {
	// PostgresDSN enables the event archive when set; empty disables it.
	PostgresDSN string `mapstructure:"HRS_POSTGRES_DSN"`
}

type CacheConfig struct {
	RedisAddr string `mapstructure:"HRS_REDIS_ADDR"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"HRS_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"HRS_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // env vars already set take precedence
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("HRS_ENV", "dev")
	viper.SetDefault("HRS_HTTP_ADDR", ":8080")
	viper.SetDefault("HRS_OWNER_ADDRESS", "")
	viper.SetDefault("HRS_ESCROW_ACCOUNT", "marketplace")
	viper.SetDefault("HRS_AUCTION_DURATION", "72h")
	viper.SetDefault("HRS_MIN_BIDS", 2)
	viper.SetDefault("HRS_POSTGRES_DSN", "")
	viper.SetDefault("HRS_REDIS_ADDR", "127.0.0.1:6379")
	viper.SetDefault("HRS_RATE_LIMIT_RPM", 120)
	viper.SetDefault("HRS_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")

	if origins := viper.GetString("HRS_CORS_ALLOWED_ORIGINS"); origins != "" {
		viper.Set("HRS_CORS_ALLOWED_ORIGINS", strings.Split(origins, ","))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Market.OwnerAddress == "" {
		return fmt.Errorf("HRS_OWNER_ADDRESS is required")
	}
	if c.Market.EscrowAccount == "" {
		return fmt.Errorf("HRS_ESCROW_ACCOUNT must not be empty")
	}
	if c.Market.AuctionDuration <= 0 {
		return fmt.Errorf("HRS_AUCTION_DURATION must be positive")
	}
	switch c.Env {
	case "dev", "prod":
	default:
		return fmt.Errorf("invalid HRS_ENV %q (must be dev or prod)", c.Env)
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
