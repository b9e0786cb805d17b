package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", base64.StdEncoding.EncodeToString([]byte("secret")))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []byte("secret"), cfg.Auth.JWTSecret)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "LearnLink", cfg.Store.Table)
	assert.Equal(t, 16*time.Millisecond, cfg.Whiteboard.PointThrottle)
	assert.Equal(t, 1000, cfg.Whiteboard.MaxBoardStrokes)
	assert.Equal(t, "https://meet.jit.si", cfg.Meeting.BaseURL)
	assert.False(t, cfg.DevMode)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", base64.StdEncoding.EncodeToString([]byte("secret")))
	t.Setenv("DEV_MODE", "true")
	t.Setenv("POINT_THROTTLE", "32")
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("MEETING_BASE_URL", "https://meet.example.org/")
	t.Setenv("MAX_BOARD_STROKES", "50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.DevMode)
	assert.Equal(t, 32*time.Millisecond, cfg.Whiteboard.PointThrottle)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "https://meet.example.org", cfg.Meeting.BaseURL)
	assert.Equal(t, 50, cfg.Whiteboard.MaxBoardStrokes)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.EqualError(t, err, "JWT_SECRET is required")
}

func TestLoad_InvalidSecretEncoding(t *testing.T) {
	t.Setenv("JWT_SECRET", "not base64!")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_RejectsNonPositiveThrottle(t *testing.T) {
	t.Setenv("JWT_SECRET", base64.StdEncoding.EncodeToString([]byte("secret")))
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Whiteboard.PointThrottle = 0
	assert.Error(t, cfg.Validate())
}

func TestGetDuration_InvalidFallsBack(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	assert.Equal(t, time.Second, getDuration("SOME_DURATION", time.Second))
}

func TestOAuthEnabled(t *testing.T) {
	cfg := &Config{OAuth: OAuthConfig{GoogleClientID: "id", GoogleClientSecret: "secret", GitHubClientID: "id"}}
	enabled := cfg.OAuthEnabled()
	assert.True(t, enabled["google"])
	assert.False(t, enabled["github"])
}
