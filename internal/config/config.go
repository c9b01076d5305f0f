package config

import (
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// DefaultFeeRate is the platform service fee charged on top of every purchase subtotal
const DefaultFeeRate = "0.02"

// DefaultStartingBalance is credited to every bucket of a newly registered user
const DefaultStartingBalance = "200000"

type SettlementConfig struct {
	FeeRate decimal.Decimal
}

type AccountsConfig struct {
	StartingBalance decimal.Decimal
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Init reads the .env file (when present) and binds the environment variables
// every component looks up through viper.
func Init(configFile string) {
	if configFile == "" {
		configFile = ".env"
	}
	viper.SetConfigFile(configFile)
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	bindings := map[string]string{
		"database.url":      "DATABASE_URL",
		"database.host":     "DATABASE_HOST",
		"database.port":     "DATABASE_PORT",
		"database.user":     "DATABASE_USER",
		"database.password": "DATABASE_PASSWORD",
		"database.name":     "DATABASE_NAME",
		"database.ssl_mode": "DATABASE_SSL_MODE",

		"redis.host":     "REDIS_HOST",
		"redis.port":     "REDIS_PORT",
		"redis.password": "REDIS_PASSWORD",
		"redis.db":       "REDIS_DB",

		"jwt.secret_key":   "JWT_SECRET_KEY",
		"jwt.expiry_hours": "JWT_EXPIRY_HOURS",

		"argon2.time":        "ARGON2_TIME",
		"argon2.memory":      "ARGON2_MEMORY",
		"argon2.threads":     "ARGON2_THREADS",
		"argon2.key_length":  "ARGON2_KEY_LENGTH",
		"argon2.salt_length": "ARGON2_SALT_LENGTH",

		"settlement.fee_rate":       "SETTLEMENT_FEE_RATE",
		"accounts.starting_balance": "ACCOUNTS_STARTING_BALANCE",

		"server.port":        "PORT",
		"server.public_host": "PUBLIC_HOST",

		"database.auto_migrate": "DATABASE_AUTO_MIGRATE",
	}
	for key, env := range bindings {
		viper.BindEnv(key, env)
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("[CONFIG] Config file not found, using environment and defaults: %v", err)
	}
}

func setDefaults() {
	viper.SetDefault("jwt.expiry_hours", 720)

	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	viper.SetDefault("settlement.fee_rate", DefaultFeeRate)
	viper.SetDefault("accounts.starting_balance", DefaultStartingBalance)

	viper.SetDefault("database.auto_migrate", true)

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.public_host", "localhost:8080")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.idle_timeout", 60*time.Second)
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)
}

func Settlement() SettlementConfig {
	return SettlementConfig{
		FeeRate: decimalOrDefault("settlement.fee_rate", DefaultFeeRate),
	}
}

func Accounts() AccountsConfig {
	return AccountsConfig{
		StartingBalance: decimalOrDefault("accounts.starting_balance", DefaultStartingBalance),
	}
}

func Server() ServerConfig {
	return ServerConfig{
		Port:            viper.GetString("server.port"),
		ReadTimeout:     viper.GetDuration("server.read_timeout"),
		WriteTimeout:    viper.GetDuration("server.write_timeout"),
		IdleTimeout:     viper.GetDuration("server.idle_timeout"),
		ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
	}
}

func decimalOrDefault(key, fallback string) decimal.Decimal {
	value, err := decimal.NewFromString(viper.GetString(key))
	if err != nil || value.IsNegative() {
		log.Printf("[CONFIG] Invalid %s %q, using %s", key, viper.GetString(key), fallback)
		return decimal.RequireFromString(fallback)
	}
	return value
}
