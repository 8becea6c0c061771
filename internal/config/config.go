package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	BaseURL            string
	Timezone           string
	DatabaseURL        string
	JWTSecret          string
	JWTIssuer          string
	AccessTTLSeconds   int64
	RefreshTTLSeconds  int64
	CorsOrigins        []string
	CronSecret         string
	LogDir             string
	LogLevel           string
	MailAPIURL         string
	MailAPIKey         string
	MailFrom           string
	AlertRecipients    []string
	AlertWorkers       int
	AlertItemTimeout   int
	RedisURL           string
	ExportPageSize     int
	DashboardPushSecs  int
	MetricsDiskPath    string
	LoginRatePerMinute int
}

func Load() Config {
	return Config{
		AppEnv:             envOr("APP_ENV", "development"),
		Port:               envOr("PORT", "8080"),
		BaseURL:            strings.TrimRight(envOr("APP_BASE_URL", ""), "/"),
		Timezone:           envOr("APP_TIMEZONE", "Europe/Rome"),
		DatabaseURL:        mustEnv("DATABASE_URL"),
		JWTSecret:          mustEnv("JWT_SECRET"),
		JWTIssuer:          envOr("JWT_ISSUER", "sicet"),
		AccessTTLSeconds:   int64(envOrInt("ACCESS_TTL_SECONDS", 14400)),
		RefreshTTLSeconds:  int64(envOrInt("REFRESH_TTL_SECONDS", 1209600)),
		CorsOrigins:        parseCSV(envOr("CORS_ORIGINS", "")),
		CronSecret:         mustEnv("CRON_SECRET"),
		LogDir:             envOr("LOG_DIR", "storage/logs"),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		MailAPIURL:         envOr("MAIL_API_URL", ""),
		MailAPIKey:         envOr("MAIL_API_KEY", ""),
		MailFrom:           envOr("MAIL_FROM", "Sicet <noreply@sicet.local>"),
		AlertRecipients:    parseCSV(envOr("ALERT_RECIPIENTS", "")),
		AlertWorkers:       clamp(envOrInt("ALERT_WORKERS", 4), 1, 16),
		AlertItemTimeout:   clamp(envOrInt("ALERT_ITEM_TIMEOUT_SECONDS", 15), 1, 120),
		RedisURL:           envOr("REDIS_URL", ""),
		ExportPageSize:     clamp(envOrInt("EXPORT_PAGE_SIZE", 1000), 50, 5000),
		DashboardPushSecs:  clamp(envOrInt("DASHBOARD_PUSH_SECONDS", 30), 5, 3600),
		MetricsDiskPath:    envOr("METRICS_DISK_PATH", "/"),
		LoginRatePerMinute: clamp(envOrInt("LOGIN_RATE_PER_MINUTE", 20), 1, 600),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func mustEnv(key string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		panic("missing env var: " + key)
	}
	return value
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value != "" {
			items = append(items, value)
		}
	}
	return items
}
