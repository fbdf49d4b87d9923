package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPollInterval            = 15 * time.Second
	defaultScheduleRefreshInterval = time.Minute
	defaultLDAPTimeout             = 30 * time.Second
)

type Config struct {
	DatabaseURL             string
	PollInterval            time.Duration
	ScheduleRefreshInterval time.Duration
	MetricsAddr             string
	LDAPTimeout             time.Duration
}

type LoadOptions struct {
	RequireDatabaseURL bool
}

func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: true})
}

func LoadOptionalDB() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: false})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		PollInterval:            defaultPollInterval,
		ScheduleRefreshInterval: defaultScheduleRefreshInterval,
		MetricsAddr:             strings.TrimSpace(os.Getenv("METRICS_ADDR")),
		LDAPTimeout:             defaultLDAPTimeout,
	}

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv("SCHEDULE_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ScheduleRefreshInterval = d
		}
	}
	if v := os.Getenv("LDAP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.LDAPTimeout = d
		}
	}

	if opts.RequireDatabaseURL && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}
