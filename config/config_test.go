package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("JWT_SECRET", "s3cret")
	assert.EqualError(t, LoadConfig(), "DB_PASSWORD is required")

	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("JWT_SECRET", "")
	assert.EqualError(t, LoadConfig(), "JWT_SECRET is required")
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("REVIEW_REMINDER_AFTER", "")
	t.Setenv("REVIEW_REMINDER_INTERVAL", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")

	require.NoError(t, LoadConfig())
	assert.Equal(t, 48*time.Hour, AppConfig.ReviewReminderAfter)
	assert.Equal(t, 30*time.Minute, AppConfig.ReviewReminderInterval)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, AppConfig.AllowedOrigins)
	assert.False(t, AppConfig.IsProduction())
}

func TestLoadConfigProductionSecretLength(t *testing.T) {
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("ENVIRONMENT", "production")
	assert.Error(t, LoadConfig())
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PF_TEST_INT", "12")
	t.Setenv("PF_TEST_BAD_INT", "twelve")
	t.Setenv("PF_TEST_BOOL", "true")
	t.Setenv("PF_TEST_DURATION", "90m")

	assert.Equal(t, 12, getEnvAsInt("PF_TEST_INT", 1))
	assert.Equal(t, 1, getEnvAsInt("PF_TEST_BAD_INT", 1))
	assert.True(t, getEnvAsBool("PF_TEST_BOOL", false))
	assert.Equal(t, 90*time.Minute, getEnvAsDuration("PF_TEST_DURATION", time.Hour))
	assert.Equal(t, time.Hour, getEnvAsDuration("PF_TEST_MISSING", time.Hour))
}

func TestMaskPassword(t *testing.T) {
	AppConfig = Config{DBHost: "db", DBPort: "5432", DBUser: "app", DBPassword: "hunter2", DBName: "pf", DBSSLMode: "disable"}
	masked := maskPassword(AppConfig.DSN())
	assert.NotContains(t, masked, "hunter2")
	assert.Contains(t, masked, "password=***** dbname=pf")
	assert.Equal(t, "password=*****", maskPassword("password=abc"))
}
