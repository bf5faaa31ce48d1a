// Package config loads process configuration from flags, environment and
// an optional YAML file, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Env                string
	LogLevel           string
	HTTPAddr           string
	RedisURL           string
	RedisPoolSize      int
	TradingPairs       []string
	ArchiveDatabaseURL string
	OrderTTL           time.Duration
	RateLimitInterval  time.Duration
}

// Load parses args (the program arguments without argv[0]) plus the
// environment. Recognized env vars: REDIS_URL, REDIS_POOL_SIZE,
// TRADING_PAIRS (comma separated), LOG_LEVEL, HTTP_ADDR,
// ARCHIVE_DATABASE_URL, ORDER_TTL, RATE_LIMIT_INTERVAL, RACK_ENV.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("exchange-engine", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a YAML config file")
	env := fs.String("env", "", "runtime environment (development|production)")
	logLevel := fs.String("log-level", "", "log level (debug|info|warn|error)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("rack_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("redis_pool_size", 10)
	v.SetDefault("trading_pairs", "BTCUSDT")
	v.SetDefault("order_ttl", "0s")
	v.SetDefault("rate_limit_interval", "0s")
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", *configFile, err)
		}
	}
	if *env != "" {
		v.Set("rack_env", *env)
	}
	if *logLevel != "" {
		v.Set("log_level", *logLevel)
	}

	cfg := &Config{
		Env:                v.GetString("rack_env"),
		LogLevel:           v.GetString("log_level"),
		HTTPAddr:           v.GetString("http_addr"),
		RedisURL:           v.GetString("redis_url"),
		RedisPoolSize:      v.GetInt("redis_pool_size"),
		ArchiveDatabaseURL: v.GetString("archive_database_url"),
		OrderTTL:           v.GetDuration("order_ttl"),
		RateLimitInterval:  v.GetDuration("rate_limit_interval"),
	}
	for _, p := range strings.Split(v.GetString("trading_pairs"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.TradingPairs = append(cfg.TradingPairs, p)
		}
	}
	// legacy single-symbol form
	if single := v.GetString("trading_pair"); single != "" {
		cfg.TradingPairs = appendUnique(cfg.TradingPairs, single)
	}
	if len(cfg.TradingPairs) == 0 {
		return nil, fmt.Errorf("no trading pairs configured")
	}
	return cfg, nil
}

func appendUnique(pairs []string, p string) []string {
	for _, existing := range pairs {
		if existing == p {
			return pairs
		}
	}
	return append(pairs, p)
}
