package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	JWTSecret   string `env:"JWT_SECRET,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	JWTExpiryHours int `env:"JWT_EXPIRY_HOURS" envDefault:"24"`

	Currency string `env:"CURRENCY" envDefault:"XOF"`

	// Penalty policy applied when a session closes with unpaid obligations.
	PenaltyMode    string `env:"PENALTY_MODE" envDefault:"fixed"`
	PenaltyAmount  int64  `env:"PENALTY_AMOUNT" envDefault:"500"`
	PenaltyPercent string `env:"PENALTY_PERCENT" envDefault:"5"`

	// How far confirmed contributions may exceed a member's expected amount
	// before the reconciler rejects them. Cumulative tontines are exempt.
	OverCollectTolerance int64 `env:"OVERCOLLECT_TOLERANCE" envDefault:"0"`

	GatewayBaseURL     string `env:"GATEWAY_BASE_URL" envDefault:"http://mock-gateway:8081"`
	GatewayCallbackURL string `env:"GATEWAY_CALLBACK_URL" envDefault:"http://app:8080/api/v1/callbacks"`

	OrangeSecret    string `env:"ORANGE_WEBHOOK_SECRET,required"`
	MTNSecret       string `env:"MTN_WEBHOOK_SECRET,required"`
	WaveSecret      string `env:"WAVE_WEBHOOK_SECRET,required"`
	MoovSecret      string `env:"MOOV_WEBHOOK_SECRET,required"`
	FreeMoneySecret string `env:"FREE_MONEY_WEBHOOK_SECRET,required"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if _, err := decimal.NewFromString(cfg.PenaltyPercent); err != nil {
		return nil, fmt.Errorf("config.Load: PENALTY_PERCENT: %w", err)
	}
	return &cfg, nil
}

// PenaltyPercentDecimal parses the configured percentage. Load validates
// the string, so a parse failure only happens for hand-built test configs.
func (c *Config) PenaltyPercentDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.PenaltyPercent)
	if err != nil {
		return decimal.Zero
	}
	return d
}
