package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sicet")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CRON_SECRET", "cron")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "Europe/Rome", cfg.Timezone)
	assert.Equal(t, "sicet", cfg.JWTIssuer)
	assert.Equal(t, 4, cfg.AlertWorkers)
	assert.Equal(t, 1000, cfg.ExportPageSize)
	assert.Nil(t, cfg.AlertRecipients)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ALERT_RECIPIENTS", " a@example.com, ,b@example.com ")
	t.Setenv("ALERT_WORKERS", "100")
	t.Setenv("EXPORT_PAGE_SIZE", "nope")
	t.Setenv("APP_BASE_URL", "https://sicet.example.com/")
	t.Setenv("APP_ENV", "Production")

	cfg := Load()

	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.AlertRecipients)
	assert.Equal(t, 16, cfg.AlertWorkers)
	assert.Equal(t, 1000, cfg.ExportPageSize)
	assert.Equal(t, "https://sicet.example.com", cfg.BaseURL)
	assert.True(t, cfg.IsProduction())
}

func TestLoadPanicsWithoutSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sicet")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CRON_SECRET", "")

	require.PanicsWithValue(t, "missing env var: CRON_SECRET", func() { Load() })
}
