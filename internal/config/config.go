package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	PgDSN             string
	Chains            []string
	Endpoints         map[string]string
	APIKeys           map[string]string
	FanOutCeiling     int
	MaxRetries        int
	RetryBackoff      time.Duration
	HTTPTimeout       time.Duration
	RequestsPerSecond int
	PageSize          int
	LogLevel          string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WALLETSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("chains", []string{"ethereum"})
	v.SetDefault("fanout-ceiling", 10)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("http-timeout", 15*time.Second)
	v.SetDefault("requests-per-second", 4)
	v.SetDefault("page-size", 100)
	v.SetDefault("log-level", "info")
	v.SetDefault("endpoints", map[string]string{
		"ethereum": "https://api.etherscan.io/api",
		"bsc":      "https://api.bscscan.com/api",
		"polygon":  "https://api.polygonscan.com/api",
		"solana":   "https://pro-api.solscan.io/v2.0/account/transfer",
	})

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		PgDSN:             v.GetString("pg-dsn"),
		Chains:            getStringSlice(v, "chains"),
		Endpoints:         v.GetStringMapString("endpoints"),
		APIKeys:           v.GetStringMapString("api-keys"),
		FanOutCeiling:     v.GetInt("fanout-ceiling"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		HTTPTimeout:       v.GetDuration("http-timeout"),
		RequestsPerSecond: v.GetInt("requests-per-second"),
		PageSize:          v.GetInt("page-size"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
