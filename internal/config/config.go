package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort    int
	DBDriver    string
	DBPath      string
	AuthSecret  string
	CronSecret  string
	LogLevel    slog.Level
	InboxesFile string

	// Inboxes is filled from InboxesFile by LoadInboxes.
	Inboxes []Inbox

	SyncInboxTimeout time.Duration
	SyncInterval     time.Duration
	ThreadTieBreak   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CalendarDomain          string
	CalendarTZ              string
	CalendarDefaultDuration time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTLS      string

	RelayEnabled     bool
	RelayPort        int
	RelayAuthEnabled bool
	RelayUsername    string
	RelayPassword    string
}

func Load() Config {
	return Config{
		HTTPPort:    getEnvInt("HTTP_PORT", 3025),
		DBDriver:    getEnvString("DB_DRIVER", "sqlite"),
		DBPath:      getEnvString("DB_PATH", ""),
		AuthSecret:  getEnvString("AUTH_SECRET", ""),
		CronSecret:  getEnvString("CRON_SECRET", ""),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		InboxesFile: getEnvString("INBOXES_FILE", ""),

		SyncInboxTimeout: getEnvDuration("SYNC_INBOX_TIMEOUT", 60*time.Second),
		SyncInterval:     getEnvDuration("SYNC_INTERVAL", 0),
		ThreadTieBreak:   getEnvString("THREAD_TIE_BREAK", "most_recent"),

		RedisAddr:     getEnvString("REDIS_ADDR", ""),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		CalendarDomain:          getEnvString("CALENDAR_DOMAIN", "gigdesk.local"),
		CalendarTZ:              getEnvString("CALENDAR_TZ", "UTC"),
		CalendarDefaultDuration: getEnvDuration("CALENDAR_DEFAULT_DURATION", 4*time.Hour),

		SMTPHost:     getEnvString("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnvString("SMTP_USERNAME", ""),
		SMTPPassword: getEnvString("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnvString("SMTP_FROM", ""),
		SMTPTLS:      getEnvString("SMTP_TLS", "starttls"),

		RelayEnabled:     getEnvBool("RELAY_ENABLED", false),
		RelayPort:        getEnvInt("RELAY_PORT", 2025),
		RelayAuthEnabled: getEnvBool("RELAY_AUTH_ENABLED", true),
		RelayUsername:    getEnvString("RELAY_USERNAME", "gigdesk"),
		RelayPassword:    getEnvString("RELAY_PASSWORD", ""),
	}
}

// Inbox returns the configured inbox with the given id.
func (c *Config) Inbox(id string) (Inbox, bool) {
	for _, inbox := range c.Inboxes {
		if inbox.ID == id {
			return inbox, true
		}
	}
	return Inbox{}, false
}

// RelayAddresses lists the mailbox addresses served by relay inboxes.
func (c *Config) RelayAddresses() []string {
	var addrs []string
	for _, inbox := range c.Inboxes {
		if inbox.Protocol == ProtocolRelay && inbox.Address != "" {
			addrs = append(addrs, inbox.Address)
		}
	}
	return addrs
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	if value, ok := os.LookupEnv(key); ok {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err == nil {
			return level
		}
	}
	return fallback
}
