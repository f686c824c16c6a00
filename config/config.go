package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime settings, populated from the environment.
type Config struct {
	Port           string `env:"PORT" envDefault:"5200"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000"`
	DatabaseURL    string `env:"DATABASE_URL,required"`
	AdminKey       string `env:"ADMIN_KEY,required"`

	// Chain collaborators
	RPCURL          string `env:"RPC_URL,required"`
	VaultServiceURL string `env:"VAULT_SERVICE_URL,required"`
	VaultWallet     string `env:"VAULT_WALLET,required"`
	TokenMint       string `env:"TOKEN_MINT,required"`
	ServiceToken    string `env:"SERVICE_TOKEN,required"`

	// Reward policy. PointsPerChum is a deployment parameter, not an
	// invariant (1000 and 3000 are both in use).
	MinHoldThreshold int64 `env:"MIN_HOLD_THRESHOLD" envDefault:"25000"`
	PointsPerChum    int64 `env:"POINTS_PER_CHUM" envDefault:"1000"`
	MinPointsPerEarn int64 `env:"MIN_POINTS_PER_EARN" envDefault:"100"`

	// R2 document store
	CloudflareAccountID string `env:"CLOUDFLARE_ACCOUNT_ID,required"`
	R2AccessKeyID       string `env:"R2_ACCESS_KEY_ID,required"`
	R2AccessKeySecret   string `env:"R2_ACCESS_KEY_SECRET,required"`
	R2BucketName        string `env:"R2_BUCKET_NAME,required"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.PointsPerChum <= 0 {
		return nil, fmt.Errorf("POINTS_PER_CHUM must be positive, got %d", cfg.PointsPerChum)
	}
	return cfg, nil
}
