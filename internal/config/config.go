/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables (with an
 * optional .env file), providing a centralized way to manage settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the wallet-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	LedgerAPIBaseURL        string `mapstructure:"LEDGER_API_BASE_URL"`
	JWTSecret               string `mapstructure:"JWT_SECRET"`
	SimulateMining          bool   `mapstructure:"SIMULATE_MINING"`
	EscrowLifetimeHours     int    `mapstructure:"ESCROW_LIFETIME_HOURS"`
	EscrowCodeLength        int    `mapstructure:"ESCROW_CODE_LENGTH"`
	EscrowSweepSchedule     string `mapstructure:"ESCROW_SWEEP_SCHEDULE"`
	ClaimRateLimitPerMinute int    `mapstructure:"CLAIM_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LEDGER_API_BASE_URL", "http://localhost:8545")
	viper.SetDefault("SIMULATE_MINING", false)
	viper.SetDefault("ESCROW_LIFETIME_HOURS", 72)
	viper.SetDefault("ESCROW_CODE_LENGTH", 6)
	viper.SetDefault("ESCROW_SWEEP_SCHEDULE", "@every 10m")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "wallet:rate_limit")
	viper.SetDefault("CLAIM_RATE_LIMIT_PER_MINUTE", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_API_BASE_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("SIMULATE_MINING")
	_ = viper.BindEnv("ESCROW_LIFETIME_HOURS")
	_ = viper.BindEnv("ESCROW_CODE_LENGTH")
	_ = viper.BindEnv("ESCROW_SWEEP_SCHEDULE")
	_ = viper.BindEnv("CLAIM_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.LedgerAPIBaseURL = strings.TrimRight(strings.TrimSpace(config.LedgerAPIBaseURL), "/")
	config.RedisURL = strings.TrimSpace(config.RedisURL)

	if config.EscrowLifetimeHours <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive escrow lifetime; using default\" hours=%d", config.EscrowLifetimeHours)
		config.EscrowLifetimeHours = 72
	}
	if config.EscrowCodeLength <= 0 {
		config.EscrowCodeLength = 6
	}
	if strings.TrimSpace(config.EscrowSweepSchedule) == "" {
		config.EscrowSweepSchedule = "@every 10m"
	}
	if config.ClaimRateLimitPerMinute < 0 {
		config.ClaimRateLimitPerMinute = 0
	}

	return
}
