// Package config содержит логику чтения конфигурации сервиса Bookworm.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config содержит параметры конфигурации сервиса Bookworm.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	BaseURL        string        `env:"BASE_URL" envDefault:"http://localhost:8080"`
	SessionSecret  string        `env:"SESSION_SECRET"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	FineDailyRate  decimal.Decimal `env:"FINE_DAILY_RATE" envDefault:"1.00"`
	LoanPeriodDays int             `env:"LOAN_PERIOD_DAYS" envDefault:"14"`
	Currency       string          `env:"CURRENCY" envDefault:"usd"`

	Payment PaymentConfig `envPrefix:"PAYMENT_"`
	SMTP    SMTPConfig    `envPrefix:"SMTP_"`
	// MailFrom задаёт адрес отправителя писем-напоминаний.
	MailFrom string `env:"MAIL_FROM" envDefault:"Bookworm Library <no-reply@bookworm.local>"`
}

// PaymentConfig описывает подключение к платёжному провайдеру.
type PaymentConfig struct {
	APIURL  string        `env:"API_URL" envDefault:"https://api.stripe.com"`
	APIKey  string        `env:"API_KEY"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// SMTPConfig описывает подключение к почтовому релею.
type SMTPConfig struct {
	Host     string        `env:"HOST"`
	Port     int           `env:"PORT" envDefault:"587"`
	User     string        `env:"USER"`
	Password string        `env:"PASSWORD"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Parse считывает конфигурацию из файла .env, переменных окружения и флагов командной строки.
func Parse() (*Config, error) {
	// .env необязателен, уже заданные переменные окружения не перезаписываются.
	_ = godotenv.Load()

	cfg, err := parseEnv()
	if err != nil {
		return nil, err
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseEnv считывает только переменные окружения, без флагов командной строки.
func ParseEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := parseEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseEnv() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.FineDailyRate.IsNegative() {
		return errors.New("FINE_DAILY_RATE must not be negative")
	}
	if c.LoanPeriodDays <= 0 {
		return errors.New("LOAN_PERIOD_DAYS must be positive")
	}
	return nil
}
