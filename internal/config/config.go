package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Flow state and conversation memory
	FlowStateBackend    string
	FlowStateTTL        time.Duration
	FlowStateTable      string
	MemoryHistoryWindow int

	// Clinic context loading; zero means a fresh read on every turn.
	ClinicContextCacheTTL time.Duration

	// Resilient HTTP client
	HTTPTimeout      time.Duration
	HTTPMaxAttempts  int
	HTTPRetryBackoff time.Duration

	// Rate limiting
	RateLimitBackend     string
	InboundRateCapacity  int
	InboundRateWindow    time.Duration
	OutboundRateCapacity int
	OutboundRateWindow   time.Duration
	TenantRateCapacity   int
	TenantRateWindow     time.Duration
	WebhookRateCapacity  int
	WebhookRateWindow    time.Duration
	CalendarRateCapacity int
	CalendarRateWindow   time.Duration

	// WhatsApp Cloud API
	WhatsAppAPIBaseURL          string
	WhatsAppAppSecret           string
	WhatsAppVerifyToken         string
	WhatsAppFallbackPhoneID     string
	WhatsAppFallbackAccessToken string

	// Google Calendar
	GoogleClientID         string
	GoogleClientSecret     string
	GoogleRedirectURL      string
	GoogleCalendarEndpoint string
	TokenRefreshInterval   time.Duration
	TokenRefreshBefore     time.Duration

	// Booking dialogue
	BookingMaxSlots   int
	BookingDaysAhead  int
	BookingTimeFormat string

	// Work queue
	QueueBackend         string
	ConversationQueueURL string
	WorkerCount          int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Email notifications
	EmailProvider           string
	SendGridAPIKey          string
	EmailFrom               string
	EmailFromName           string
	ReconnectNoticeInterval time.Duration
	ReconnectURL            string
}

// LoadDotEnv loads a .env file when one exists. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		FlowStateBackend:    lower(getEnv("FLOW_STATE_BACKEND", "redis")),
		FlowStateTTL:        getEnvAsDuration("FLOW_STATE_TTL", 24*time.Hour),
		FlowStateTable:      getEnv("FLOW_STATE_TABLE", "booking_flow_state"),
		MemoryHistoryWindow: getEnvAsInt("MEMORY_HISTORY_WINDOW", 50),

		ClinicContextCacheTTL: getEnvAsDuration("CLINIC_CONTEXT_CACHE_TTL", 0),

		HTTPTimeout:      getEnvAsDuration("HTTP_TIMEOUT", 10*time.Second),
		HTTPMaxAttempts:  getEnvAsInt("HTTP_MAX_ATTEMPTS", 3),
		HTTPRetryBackoff: getEnvAsDuration("HTTP_RETRY_BACKOFF", 200*time.Millisecond),

		RateLimitBackend:     lower(getEnv("RATE_LIMIT_BACKEND", "memory")),
		InboundRateCapacity:  getEnvAsInt("INBOUND_RATE_CAPACITY", 10),
		InboundRateWindow:    getEnvAsDuration("INBOUND_RATE_WINDOW", time.Minute),
		OutboundRateCapacity: getEnvAsInt("OUTBOUND_RATE_CAPACITY", 20),
		OutboundRateWindow:   getEnvAsDuration("OUTBOUND_RATE_WINDOW", time.Minute),
		TenantRateCapacity:   getEnvAsInt("TENANT_RATE_CAPACITY", 80),
		TenantRateWindow:     getEnvAsDuration("TENANT_RATE_WINDOW", time.Second),
		WebhookRateCapacity:  getEnvAsInt("WEBHOOK_RATE_CAPACITY", 300),
		WebhookRateWindow:    getEnvAsDuration("WEBHOOK_RATE_WINDOW", time.Minute),
		CalendarRateCapacity: getEnvAsInt("CALENDAR_RATE_CAPACITY", 60),
		CalendarRateWindow:   getEnvAsDuration("CALENDAR_RATE_WINDOW", time.Minute),

		WhatsAppAPIBaseURL:          getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v21.0"),
		WhatsAppAppSecret:           getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppVerifyToken:         getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppFallbackPhoneID:     getEnv("WHATSAPP_FALLBACK_PHONE_NUMBER_ID", ""),
		WhatsAppFallbackAccessToken: getEnv("WHATSAPP_FALLBACK_ACCESS_TOKEN", ""),

		GoogleClientID:         getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:     getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:      getEnv("GOOGLE_REDIRECT_URL", ""),
		GoogleCalendarEndpoint: getEnv("GOOGLE_CALENDAR_ENDPOINT", ""),
		TokenRefreshInterval:   getEnvAsDuration("TOKEN_REFRESH_INTERVAL", 30*time.Minute),
		TokenRefreshBefore:     getEnvAsDuration("TOKEN_REFRESH_BEFORE", 15*time.Minute),

		BookingMaxSlots:   getEnvAsInt("BOOKING_MAX_SLOTS", 5),
		BookingDaysAhead:  getEnvAsInt("BOOKING_DAYS_AHEAD", 7),
		BookingTimeFormat: getEnv("BOOKING_TIME_FORMAT", "02/01 15:04"),

		QueueBackend:         lower(getEnv("QUEUE_BACKEND", "memory")),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		EmailProvider:           lower(getEnv("EMAIL_PROVIDER", "stub")),
		SendGridAPIKey:          getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:               getEnv("EMAIL_FROM", ""),
		EmailFromName:           getEnv("EMAIL_FROM_NAME", "Agenda Online"),
		ReconnectNoticeInterval: getEnvAsDuration("RECONNECT_NOTICE_INTERVAL", 6*time.Hour),
		ReconnectURL:            getEnv("CLINIC_RECONNECT_URL", ""),
	}
}

func lower(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
