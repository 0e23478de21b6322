package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration (Reservation Session Store, component C)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration (ambient realtime fan-out)
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// PocketBase / order store
	DatabaseURL string

	// TigerBeetle ledger (component A)
	TBAddress   string
	TBClusterID int

	// Mock payment provider
	MockWebhookURL string
	WebhookSecret  string

	// Resource supply
	GoodieSupply int64
	TicketSupplyA int64
	TicketSupplyB int64

	// Timeout configuration
	HoldTimeout       time.Duration
	SweepInterval     time.Duration
	SweepGrace        time.Duration
	WebhookSkew       time.Duration
	WebhookDeadline   time.Duration

	// Rate limiting
	CheckoutRateLimit  int
	CheckoutRateWindow time.Duration

	// Admin
	AdminBasicAuth string

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("SESSION_STORE_URL", getEnv("REDIS_URL", "localhost:6379")),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Order store
		DatabaseURL: getEnv("DATABASE_URL", "pb_data"),

		// Ledger
		TBAddress:   getEnv("TB_ADDRESS", "3000"),
		TBClusterID: getEnvAsInt("TB_CLUSTER_ID", 0),

		// Mock payment provider
		MockWebhookURL: getEnv("MOCK_WEBHOOK_URL", "http://localhost:8090/payments/webhook"),
		WebhookSecret:  getEnv("WEBHOOK_SECRET", "supersecret"),

		// Supply
		GoodieSupply:  int64(getEnvAsInt("GOODIE_SUPPLY", 100)),
		TicketSupplyA: int64(getEnvAsInt("TICKET_SUPPLY_A", 1000)),
		TicketSupplyB: int64(getEnvAsInt("TICKET_SUPPLY_B", 100000)),

		// Timeouts
		HoldTimeout:     getEnvAsSeconds("HOLD_TIMEOUT_SECONDS", 300),
		SweepInterval:   getEnvAsDuration("SWEEP_INTERVAL", "15s"),
		SweepGrace:      getEnvAsSeconds("SWEEP_GRACE_SECONDS", 30),
		WebhookSkew:     getEnvAsDuration("WEBHOOK_SKEW", "5m"),
		WebhookDeadline: getEnvAsDuration("WEBHOOK_DEADLINE", "5s"),

		// Rate limiting
		CheckoutRateLimit:  getEnvAsInt("CHECKOUT_RATE_LIMIT", 5),
		CheckoutRateWindow: getEnvAsDuration("CHECKOUT_RATE_WINDOW", "10s"),

		// Admin
		AdminBasicAuth: getEnv("ADMIN_BASIC_AUTH", ""),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
