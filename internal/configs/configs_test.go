package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearServerEnv(t *testing.T) {
	for _, k := range []string{
		"ENVIRONMENT", "PORT", "ALLOWED_ORIGINS", "JWT_SECRET", "DATABASE_URL",
		"S3_BUCKET_NAME", "S3_ENDPOINT", "S3_REGION", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDevelopmentDefaults(t *testing.T) {
	clearServerEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.Port)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.NotEmpty(t, cfg.DatabaseDSN)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.False(t, cfg.ImagesEnabled())
}

func TestLoadConfigProductionRequiresSecret(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATABASE_URL", "postgres://db/edchat")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoadConfigRejectsBadPort(t *testing.T) {
	clearServerEnv(t)

	t.Setenv("PORT", "80")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("PORT", "eighty")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigS3Validation(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("S3_BUCKET_NAME", "chat")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "S3_ENDPOINT")

	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("S3_ACCESS_KEY_ID", "id")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.ImagesEnabled())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadClientConfig(t *testing.T) {
	t.Setenv("CHAT_SERVER_URL", "https://chat.example:8443")
	t.Setenv("CHAT_SESSION_FILE", "/tmp/edchat-session.json")
	t.Setenv("CHAT_DEDUPLICATE", "false")

	cfg, err := LoadClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "chat.example:8443", cfg.ServerURL.Host)
	assert.Equal(t, "/tmp/edchat-session.json", cfg.SessionFile)
	assert.False(t, cfg.Deduplicate)

	t.Setenv("CHAT_SERVER_URL", "ftp://chat.example")
	_, err = LoadClientConfig()
	assert.Error(t, err)
}
