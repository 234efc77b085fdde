package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"fotocopias/backend/internal/pricing"
	"fotocopias/backend/internal/receipt"
)

type Config struct {
	AppEnv        string `envconfig:"APP_ENV" default:"development"`
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"text"`

	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	DatabaseURL    string `envconfig:"DATABASE_URL"`
	CheckoutAtomic bool   `envconfig:"CHECKOUT_ATOMIC" default:"false"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	ReadModelTTL  time.Duration `envconfig:"READ_MODEL_TTL" default:"5m"`

	AuthSecret        string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL    time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	LoginAttempts     int           `envconfig:"LOGIN_ATTEMPTS_PER_MINUTE" default:"5"`
	SeedAdminPassword string        `envconfig:"SEED_ADMIN_PASSWORD"`

	ShopName    string `envconfig:"SHOP_NAME"`
	ShopAddress string `envconfig:"SHOP_ADDRESS"`
	ShopPhone   string `envconfig:"SHOP_PHONE"`
	ShopFooter  string `envconfig:"SHOP_FOOTER"`

	PrintMonoA4     decimal.Decimal `envconfig:"PRINT_MONO_A4" default:"50"`
	PrintColorA4    decimal.Decimal `envconfig:"PRINT_COLOR_A4" default:"250"`
	PrintMonoA3     decimal.Decimal `envconfig:"PRINT_MONO_A3" default:"100"`
	PrintColorA3    decimal.Decimal `envconfig:"PRINT_COLOR_A3" default:"500"`
	PrintBinding    decimal.Decimal `envconfig:"PRINT_BINDING" default:"1500"`
	PrintLamination decimal.Decimal `envconfig:"PRINT_LAMINATION" default:"1000"`
}

// Load reads the configuration from the environment. Secrets get no
// defaults; the caller decides whether an empty one is acceptable.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	for name, price := range map[string]decimal.Decimal{
		"PRINT_MONO_A4":    cfg.PrintMonoA4,
		"PRINT_COLOR_A4":   cfg.PrintColorA4,
		"PRINT_MONO_A3":    cfg.PrintMonoA3,
		"PRINT_COLOR_A3":   cfg.PrintColorA3,
		"PRINT_BINDING":    cfg.PrintBinding,
		"PRINT_LAMINATION": cfg.PrintLamination,
	} {
		if price.IsNegative() {
			return Config{}, fmt.Errorf("%s cannot be negative", name)
		}
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c Config) Tariff() pricing.Tariff {
	return pricing.Tariff{
		MonoA4:     c.PrintMonoA4,
		ColorA4:    c.PrintColorA4,
		MonoA3:     c.PrintMonoA3,
		ColorA3:    c.PrintColorA3,
		Binding:    c.PrintBinding,
		Lamination: c.PrintLamination,
	}
}

// Header fills unset shop fields from the default receipt header.
func (c Config) Header() receipt.Header {
	h := receipt.DefaultHeader()
	if c.ShopName != "" {
		h.ShopName = c.ShopName
	}
	if c.ShopAddress != "" {
		h.Address = c.ShopAddress
	}
	if c.ShopPhone != "" {
		h.Phone = c.ShopPhone
	}
	if c.ShopFooter != "" {
		h.Footer = c.ShopFooter
	}
	return h
}
