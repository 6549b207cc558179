package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, Init(filepath.Join(dir, "config.toml")))
	return dir
}

// TestGetConfigDir validates config directory access
func TestGetConfigDir(t *testing.T) {
	initTemp(t)

	configDir := GetConfigDir()
	require.NotEmpty(t, configDir)

	_, err := os.Stat(configDir)
	assert.NoError(t, err, "config directory should exist")
}

func TestInitCreatesNestedDirectory(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "new", "config", "location", "config.toml")

	require.NoError(t, Init(configPath))

	_, err := os.Stat(GetConfigDir())
	assert.NoError(t, err)
	assert.Equal(t, configPath, GetConfigFilePath())
	assert.Equal(t, filepath.Join(filepath.Dir(configPath), "credentials"), GetCredentialsPath())
}

func TestDefaults(t *testing.T) {
	dir := initTemp(t)

	assert.Equal(t, "text", GetString("output.format"))
	assert.Equal(t, 30, GetInt("api.timeout"))
	assert.Equal(t, "file", GetString("cache.backend"))
	assert.Equal(t, filepath.Join(dir, "cache"), GetString("cache.dir"))
	assert.Equal(t, 3, GetInt("auth.max_retries"))
	assert.Equal(t, 20, GetInt("auth.queue_size"))
	assert.Equal(t, 500*time.Millisecond, GetMillis("auth.settle_delay_ms"))
	assert.Equal(t, 5*time.Minute, GetSeconds("generation.timeout_s"))
	assert.False(t, GetBool("telemetry.enabled"))
	assert.InDelta(t, 0.1, GetFloat("telemetry.sampling_rate"), 1e-9)
}

func TestUserConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "[api]\nbase_url = \"https://example.supabase.co\"\ntimeout = 5\n\n[cache]\nbackend = \"sqlite\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	require.NoError(t, Init(path))

	assert.Equal(t, "https://example.supabase.co", GetString("api.base_url"))
	assert.Equal(t, 5, GetInt("api.timeout"))
	assert.Equal(t, "sqlite", GetString("cache.backend"))
}

func TestEnvOverridesConfig(t *testing.T) {
	t.Setenv("ASPIRELY_OUTPUT_FORMAT", "json")
	initTemp(t)

	assert.Equal(t, "json", GetString("output.format"))
}

func TestInvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("this is = = not toml"), 0600))

	assert.Error(t, Init(path))
}

func TestPersistWritesFile(t *testing.T) {
	initTemp(t)

	require.NoError(t, Persist("output.format", "table"))

	data, err := os.ReadFile(GetConfigFilePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "table")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log/x", expandPath("/var/log/x"))
	assert.Equal(t, "", expandPath(""))
}

func TestIsProductionHost(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://aspirely.ai", true},
		{"https://www.aspirely.ai/dashboard", true},
		{"https://WWW.ASPIRELY.AI", true},
		{"https://preview-123.aspirely.pages.dev", false},
		{"http://localhost:5173", false},
		{"::not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsProductionHost(tt.url))
		})
	}
}

func TestPublishableKeySelection(t *testing.T) {
	t.Run("explicit key wins", func(t *testing.T) {
		initTemp(t)
		SetString("identity.publishable_key", "pk_test_explicit")
		assert.Equal(t, "pk_test_explicit", PublishableKey())
	})

	t.Run("production host uses prod env", func(t *testing.T) {
		t.Setenv(envPublishableKeyProd, "pk_live_fromenv")
		initTemp(t)
		SetString("app.url", "https://aspirely.ai")
		assert.Equal(t, "pk_live_fromenv", PublishableKey())
	})

	t.Run("preview host uses dev fallback", func(t *testing.T) {
		t.Setenv(envPublishableKeyDev, "")
		initTemp(t)
		SetString("app.url", "https://preview.aspirely.dev")
		assert.Equal(t, fallbackPublishableKeyDev, PublishableKey())
	})

	t.Run("production fallback", func(t *testing.T) {
		t.Setenv(envPublishableKeyProd, "")
		initTemp(t)
		SetString("app.url", "https://aspirely.ai")
		assert.Equal(t, fallbackPublishableKeyProd, PublishableKey())
	})
}

func TestFrontendAPIHost(t *testing.T) {
	host, err := FrontendAPIHost(fallbackPublishableKeyProd)
	require.NoError(t, err)
	assert.Equal(t, "clerk.aspirely.ai", host)

	host, err = FrontendAPIHost(fallbackPublishableKeyDev)
	require.NoError(t, err)
	assert.Equal(t, "aspirely-dev.clerk.accounts.dev", host)

	_, err = FrontendAPIHost("sk_live_abc")
	assert.Error(t, err)

	_, err = FrontendAPIHost("pk_live_!!!")
	assert.Error(t, err)

	// base64("nodollar")
	_, err = FrontendAPIHost("pk_live_bm9kb2xsYXI=")
	assert.Error(t, err)
}
