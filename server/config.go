package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is read from the environment after .env has been loaded.
type Config struct {
	DatabaseURL     string        `env:"DATABASE_URL"`
	Port            string        `env:"PORT" envDefault:"8080"`
	JWTSecret       string        `env:"JWT_SECRET"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"168h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"48000h"`
	AutoMigrate     bool          `env:"AUTO_MIGRATE"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:","`

	BattleRounds int    `env:"BATTLE_ROUNDS" envDefault:"5"`
	FighterModel string `env:"FIGHTER_MODEL" envDefault:"gpt-3.5-turbo"`
	RefereeModel string `env:"REFEREE_MODEL" envDefault:"gpt-4"`
	TrainerModel string `env:"TRAINER_MODEL" envDefault:"gpt-3.5-turbo"`
	MonsterModel string `env:"MONSTER_MODEL" envDefault:"gpt-4"`

	EthRPCURL      string `env:"ETH_RPC_URL"`
	PrivateKey     string `env:"PRIVATE_KEY"`
	BattleContract string `env:"BATTLE_CONTRACT"`
	ChainID        int64  `env:"CHAIN_ID" envDefault:"0"`

	ReplicateToken  string  `env:"REPLICATE_API_TOKEN"`
	RateLimitPerMin int     `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	EloStart        float64 `env:"ELO_START" envDefault:"1500"`
	EloK            float64 `env:"ELO_K" envDefault:"24"`
}

// legacy names from the first deployment, read when the new key is empty
var legacyKeys = map[string]string{
	"ETH_RPC_URL":     "ALCHEMY_SEPOLIA_ENDPOINT",
	"BATTLE_CONTRACT": "VITE_SEPOLIA_BATTLE_CONTRACT",
}

func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.EthRPCURL == "" {
		cfg.EthRPCURL = strings.TrimSpace(os.Getenv(legacyKeys["ETH_RPC_URL"]))
	}
	if cfg.BattleContract == "" {
		cfg.BattleContract = strings.TrimSpace(os.Getenv(legacyKeys["BATTLE_CONTRACT"]))
	}
	if cfg.BattleRounds <= 0 {
		return Config{}, errors.New("BATTLE_ROUNDS must be positive")
	}
	return cfg, nil
}

// ChainEnabled reports whether wagered payouts can be sent.
func (c Config) ChainEnabled() bool {
	return c.EthRPCURL != "" && c.PrivateKey != "" && c.BattleContract != ""
}

// ValidateServe checks what the HTTP server cannot run without.
func (c Config) ValidateServe() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env var(s) %s. Put them in .env (dev) or set them on the host (prod)", strings.Join(missing, ", "))
	}
	return nil
}
