/**
 * @description
 * Configuration management for the pool engine. Uses Viper to read settings
 * from environment variables with an optional .env file, mirroring how the
 * other Togedaly services load configuration.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration variables for the pool engine. Values are
// loaded from environment variables.
type Config struct {
	ServerPort         string `mapstructure:"SERVER_PORT"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	RedisURL           string `mapstructure:"REDIS_URL"`
	RedisCeilingPrefix string `mapstructure:"REDIS_CEILING_PREFIX"`
	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	CreditEventQueue   string `mapstructure:"CREDIT_EVENT_QUEUE"`
	PoolEventsExchange string `mapstructure:"POOL_EVENTS_EXCHANGE"`
	AdminJWKSURL       string `mapstructure:"ADMIN_JWKS_URL"`
	InternalAPIKey     string `mapstructure:"INTERNAL_API_KEY"`

	// GlobalCreditKillSwitch blocks all wallet-crediting writes. It is
	// consulted at the single credit-application point, not scattered
	// across call sites, and can be reloaded at runtime via the internal
	// reload endpoint.
	GlobalCreditKillSwitch bool `mapstructure:"GLOBAL_CREDIT_KILL_SWITCH"`

	// Penalty policy applied on the grace -> penalty transition.
	PenaltyPercent   float64 `mapstructure:"PENALTY_PERCENT"`
	PenaltyFloorKobo int64   `mapstructure:"PENALTY_FLOOR_KOBO"`

	// Cron schedules for the engine's scheduled jobs.
	DueSweepSchedule        string `mapstructure:"DUE_SWEEP_SCHEDULE"`
	PayoutRunSchedule       string `mapstructure:"PAYOUT_RUN_SCHEDULE"`
	DeferredRevisitSchedule string `mapstructure:"DEFERRED_REVISIT_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given
// path. An absent .env file is not an error.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REDIS_CEILING_PREFIX", "togedaly:treasury_ceiling")
	viper.SetDefault("CREDIT_EVENT_QUEUE", "pool_engine.credit_events")
	viper.SetDefault("POOL_EVENTS_EXCHANGE", "togedaly.pool.events")
	viper.SetDefault("GLOBAL_CREDIT_KILL_SWITCH", false)
	viper.SetDefault("PENALTY_PERCENT", 5.0)
	viper.SetDefault("PENALTY_FLOOR_KOBO", 10000)
	viper.SetDefault("DUE_SWEEP_SCHEDULE", "0 * * * *")
	viper.SetDefault("PAYOUT_RUN_SCHEDULE", "15 * * * *")
	viper.SetDefault("DEFERRED_REVISIT_SCHEDULE", "30 6 * * *")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_CEILING_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("CREDIT_EVENT_QUEUE")
	_ = viper.BindEnv("POOL_EVENTS_EXCHANGE")
	_ = viper.BindEnv("ADMIN_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "POOL_ENGINE_INTERNAL_API_KEY")
	_ = viper.BindEnv("GLOBAL_CREDIT_KILL_SWITCH")
	_ = viper.BindEnv("PENALTY_PERCENT")
	_ = viper.BindEnv("PENALTY_FLOOR_KOBO")
	_ = viper.BindEnv("DUE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("PAYOUT_RUN_SCHEDULE")
	_ = viper.BindEnv("DEFERRED_REVISIT_SCHEDULE")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "error", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisCeilingPrefix = strings.TrimSpace(config.RedisCeilingPrefix)
	if config.RedisCeilingPrefix == "" {
		config.RedisCeilingPrefix = "togedaly:treasury_ceiling"
	}

	if config.PenaltyPercent < 0 {
		slog.Warn("negative penalty percent configured; coercing to zero", "penalty_percent", config.PenaltyPercent)
		config.PenaltyPercent = 0
	}
	if config.PenaltyPercent > 100 {
		slog.Warn("penalty percent too high; capping at 100", "penalty_percent", config.PenaltyPercent)
		config.PenaltyPercent = 100
	}
	if config.PenaltyFloorKobo < 0 {
		slog.Warn("negative penalty floor configured; coercing to zero", "penalty_floor_kobo", config.PenaltyFloorKobo)
		config.PenaltyFloorKobo = 0
	}

	return
}

// ReloadGlobalCreditKillSwitch re-reads the kill-switch from the environment.
// It exists so operators can flip the switch without a restart; the value is
// consulted only at the credit-application point.
func ReloadGlobalCreditKillSwitch() bool {
	return viper.GetBool("GLOBAL_CREDIT_KILL_SWITCH")
}
