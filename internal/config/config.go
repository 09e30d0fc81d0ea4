/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payments-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                  string `mapstructure:"SERVER_PORT"`
	DatabaseURL                 string `mapstructure:"DATABASE_URL"`
	RedisURL                    string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix        string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                 string `mapstructure:"RABBITMQ_URL"`
	JWTSecret                   string `mapstructure:"JWT_SECRET"`
	JWTIssuer                   string `mapstructure:"JWT_ISSUER"`
	AtlasPayAPIBaseURL          string `mapstructure:"ATLASPAY_API_BASE_URL"`
	AtlasPayAPIKey              string `mapstructure:"ATLASPAY_API_KEY"`
	AtlasPayWebhookSecret       string `mapstructure:"ATLASPAY_WEBHOOK_SECRET"`
	MeridianAPIBaseURL          string `mapstructure:"MERIDIAN_API_BASE_URL"`
	MeridianAPIKey              string `mapstructure:"MERIDIAN_API_KEY"`
	MeridianWebhookSecret       string `mapstructure:"MERIDIAN_WEBHOOK_SECRET"`
	ProviderTimeoutSeconds      int    `mapstructure:"PROVIDER_TIMEOUT_SECONDS"`
	ContractChargeLimitPerMin   int    `mapstructure:"CONTRACT_CHARGE_RATE_LIMIT_PER_MINUTE"`
	ContractChargeJobSchedule   string `mapstructure:"CONTRACT_CHARGE_JOB_SCHEDULE"`
	CardExpiryJobSchedule       string `mapstructure:"CARD_EXPIRY_JOB_SCHEDULE"`
	SchedulerJobBatchSize       int    `mapstructure:"SCHEDULER_JOB_BATCH_SIZE"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "vendora:rate_limit")
	viper.SetDefault("PROVIDER_TIMEOUT_SECONDS", 30)
	viper.SetDefault("CONTRACT_CHARGE_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("CONTRACT_CHARGE_JOB_SCHEDULE", "0 * * * *")
	viper.SetDefault("CARD_EXPIRY_JOB_SCHEDULE", "30 2 * * *")
	viper.SetDefault("SCHEDULER_JOB_BATCH_SIZE", 200)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENTS_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "PAYMENTS_SERVICE_JWT_SECRET")
	_ = viper.BindEnv("JWT_ISSUER", "JWT_ISSUER", "PAYMENTS_JWT_ISSUER")
	_ = viper.BindEnv("ATLASPAY_API_BASE_URL")
	_ = viper.BindEnv("ATLASPAY_API_KEY")
	_ = viper.BindEnv("ATLASPAY_WEBHOOK_SECRET")
	_ = viper.BindEnv("MERIDIAN_API_BASE_URL")
	_ = viper.BindEnv("MERIDIAN_API_KEY")
	_ = viper.BindEnv("MERIDIAN_WEBHOOK_SECRET")
	_ = viper.BindEnv("PROVIDER_TIMEOUT_SECONDS")
	_ = viper.BindEnv("CONTRACT_CHARGE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("CONTRACT_CHARGE_JOB_SCHEDULE")
	_ = viper.BindEnv("CARD_EXPIRY_JOB_SCHEDULE")
	_ = viper.BindEnv("SCHEDULER_JOB_BATCH_SIZE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "vendora:rate_limit"
	}
	if strings.TrimSpace(config.JWTSecret) == "" {
		config.JWTSecret = strings.TrimSpace(os.Getenv("PAYMENTS_SERVICE_JWT_SECRET"))
	}
	config.JWTIssuer = strings.TrimSpace(config.JWTIssuer)

	if config.ProviderTimeoutSeconds <= 0 {
		config.ProviderTimeoutSeconds = 30
	}
	if config.ContractChargeLimitPerMin < 0 {
		log.Printf("level=warn component=config msg=\"negative contract charge rate limit; disabling\" limit=%d", config.ContractChargeLimitPerMin)
		config.ContractChargeLimitPerMin = 0
	}
	if strings.TrimSpace(config.ContractChargeJobSchedule) == "" {
		config.ContractChargeJobSchedule = "0 * * * *"
	}
	if strings.TrimSpace(config.CardExpiryJobSchedule) == "" {
		config.CardExpiryJobSchedule = "30 2 * * *"
	}
	if config.SchedulerJobBatchSize <= 0 {
		config.SchedulerJobBatchSize = 200
	}

	return
}
