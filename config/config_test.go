package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseVars() map[string]string {
	return map[string]string{
		"BOT_TOKEN":             "123:abc",
		"WELCOME_VIDEO_FILE_ID": "welcome",
		"PRODAMUS_CHECKOUT_URL": "https://pay.example/?order={USER_ID}",
		"VIDEO_1_FILE_ID":       "v1",
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(baseVars())
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, 10000, cfg.App.Port)
	assert.Equal(t, 30*time.Second, cfg.App.ShutdownTimeout)
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.APIURL)
	assert.Equal(t, 60*time.Second, cfg.Telegram.Timeout)
	assert.Equal(t, ModeWebhook, cfg.Telegram.Mode)
	assert.Equal(t, "paid_", cfg.Course.ActivationPrefix)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 100000, cfg.Store.MaxUsers)
	assert.Equal(t, 32, cfg.Dispatch.Workers)
	assert.Equal(t, 15*time.Second, cfg.Dispatch.SendTimeout)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Equal(t, "text", cfg.Observability.LogFormat)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Course.ProtectContent)
	assert.Equal(t, 9090, cfg.Observability.MetricsPort)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFrom_ProductionLogsJSON(t *testing.T) {
	vars := baseVars()
	vars["APP_ENV"] = "production"

	cfg, err := LoadFrom(vars)
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "json", cfg.Observability.LogFormat)

	vars["LOG_FORMAT"] = "text"
	cfg, err = LoadFrom(vars)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Observability.LogFormat)
}

func TestLoadFrom_Lessons(t *testing.T) {
	vars := baseVars()
	vars["VIDEO_1_CAPTION"] = "Intro"
	vars["VIDEO_3_FILE_ID"] = "v3"
	vars["VIDEO_2_CAPTION"] = "orphan caption"
	vars["VIDEO_20_FILE_ID"] = "v20"
	vars["VIDEO_21_FILE_ID"] = "ignored"
	vars["VIDEO_4_FILE_ID"] = "   "

	cfg, err := LoadFrom(vars)
	require.NoError(t, err)

	assert.Equal(t, []LessonConfig{
		{Number: 1, FileID: "v1", Caption: "Intro"},
		{Number: 3, FileID: "v3"},
		{Number: 20, FileID: "v20"},
	}, cfg.Course.Lessons)
}

func TestLoadFrom_Validation(t *testing.T) {
	tests := []struct {
		name  string
		patch map[string]string
		drop  []string
		want  string
	}{
		{"missing token", nil, []string{"BOT_TOKEN"}, "BOT_TOKEN is required"},
		{"empty token", map[string]string{"BOT_TOKEN": ""}, nil, "BOT_TOKEN is required"},
		{"missing welcome", nil, []string{"WELCOME_VIDEO_FILE_ID"}, "WELCOME_VIDEO_FILE_ID is required"},
		{"missing checkout", nil, []string{"PRODAMUS_CHECKOUT_URL"}, "PRODAMUS_CHECKOUT_URL is required"},
		{"checkout without placeholder", map[string]string{"PRODAMUS_CHECKOUT_URL": "https://pay.example/"}, nil, "must contain {USER_ID}"},
		{"no lessons", nil, []string{"VIDEO_1_FILE_ID"}, "at least one VIDEO_<n>_FILE_ID"},
		{"bad mode", map[string]string{"TELEGRAM_MODE": "push"}, nil, "TELEGRAM_MODE"},
		{"bad backend", map[string]string{"STORE_BACKEND": "mongo"}, nil, "STORE_BACKEND"},
		{"redis without url", map[string]string{"STORE_BACKEND": "redis"}, nil, "REDIS_URL is required"},
		{"postgres without url", map[string]string{"STORE_BACKEND": "postgres"}, nil, "DATABASE_URL is required"},
		{"port clash", map[string]string{"PORT": "9090"}, nil, "METRICS_PORT must differ"},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}, nil, "LOG_FORMAT"},
		{"zero workers", map[string]string{"DISPATCH_WORKERS": "0"}, nil, "DISPATCH_WORKERS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := baseVars()
			for k, v := range tt.patch {
				vars[k] = v
			}
			for _, k := range tt.drop {
				delete(vars, k)
			}

			_, err := LoadFrom(vars)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFrom_CollectsAllErrors(t *testing.T) {
	_, err := LoadFrom(map[string]string{})
	require.Error(t, err)

	for _, want := range []string{"BOT_TOKEN", "WELCOME_VIDEO_FILE_ID", "PRODAMUS_CHECKOUT_URL", "VIDEO_<n>_FILE_ID"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadFrom_MissingAndInvalidReportedTogether(t *testing.T) {
	vars := baseVars()
	delete(vars, "BOT_TOKEN")
	vars["STORE_BACKEND"] = "mongo"

	_, err := LoadFrom(vars)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_TOKEN is required")
	assert.Contains(t, err.Error(), "STORE_BACKEND")
	assert.NotContains(t, err.Error(), "parse env")
}

func TestLoadFrom_ProtectContent(t *testing.T) {
	vars := baseVars()
	vars["PROTECT_CONTENT"] = "true"

	cfg, err := LoadFrom(vars)
	require.NoError(t, err)
	assert.True(t, cfg.Course.ProtectContent)
}

func TestLoadFrom_MalformedValue(t *testing.T) {
	vars := baseVars()
	vars["PORT"] = "ten"

	_, err := LoadFrom(vars)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestLoadFrom_MetricsDisabledSkipsPortCheck(t *testing.T) {
	vars := baseVars()
	vars["METRICS_ENABLED"] = "false"
	vars["PORT"] = "9090"

	cfg, err := LoadFrom(vars)
	require.NoError(t, err)
	assert.False(t, cfg.Observability.MetricsEnabled)
}

func TestWebhookURL(t *testing.T) {
	cfg := &Config{App: AppConfig{Port: 8080}}
	assert.Equal(t, "http://localhost:8080", cfg.WebhookURL())

	cfg.App.RenderExternalURL = "https://bot.onrender.com"
	assert.Equal(t, "https://bot.onrender.com", cfg.WebhookURL())

	cfg.App.PublicURL = "https://bot.example.com"
	assert.Equal(t, "https://bot.example.com", cfg.WebhookURL())
}
