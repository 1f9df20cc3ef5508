// Package config содержит логику чтения конфигурации сервиса stockfarm.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса stockfarm.
type Config struct {
	RunAddress       string        `env:"RUN_ADDRESS"`
	DataDir          string        `env:"DATA_DIR"`
	GatewayAddress   string        `env:"GATEWAY_ADDRESS"`
	IntegrationsFile string        `env:"INTEGRATIONS_FILE"`
	AuthSecret       string        `env:"AUTH_SECRET"`
	AdminIDs         string        `env:"ADMIN_IDS"`
	MaxPerDay        int           `env:"MAX_PER_DAY"`
	DispensePace     time.Duration `env:"DISPENSE_PACE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDataDir := cfg.DataDir
	envGatewayAddress := cfg.GatewayAddress
	envIntegrationsFile := cfg.IntegrationsFile
	envMaxPerDay := cfg.MaxPerDay
	envDispensePace := cfg.DispensePace

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DataDir, "d", "./data", "directory for stock and ledger files")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "messaging gateway address")
	flag.StringVar(&cfg.IntegrationsFile, "i", "", "path to integrations YAML file")
	flag.IntVar(&cfg.MaxPerDay, "m", 100, "daily dispense limit per user")
	flag.DurationVar(&cfg.DispensePace, "p", 600*time.Millisecond, "delay between dispensed records")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDataDir != "" {
		cfg.DataDir = envDataDir
	}
	if envGatewayAddress != "" {
		cfg.GatewayAddress = envGatewayAddress
	}
	if envIntegrationsFile != "" {
		cfg.IntegrationsFile = envIntegrationsFile
	}
	if envMaxPerDay != 0 {
		cfg.MaxPerDay = envMaxPerDay
	}
	if envDispensePace != 0 {
		cfg.DispensePace = envDispensePace
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}

	return cfg, nil
}

// AdminIDList разбирает список идентификаторов администраторов из ADMIN_IDS.
func (c *Config) AdminIDList() ([]int64, error) {
	if strings.TrimSpace(c.AdminIDs) == "" {
		return nil, nil
	}

	parts := strings.Split(c.AdminIDs, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse admin id %q: %w", p, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}
