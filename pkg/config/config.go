package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to every environment override (api.base_url -> ASPIRELY_API_BASE_URL).
	EnvPrefix = "ASPIRELY"

	envPublishableKeyProd = "ASPIRELY_CLERK_PUBLISHABLE_KEY_PROD"
	envPublishableKeyDev  = "ASPIRELY_CLERK_PUBLISHABLE_KEY_DEV"

	// Used when neither config nor environment provides a key.
	fallbackPublishableKeyProd = "pk_live_Y2xlcmsuYXNwaXJlbHkuYWkk"
	fallbackPublishableKeyDev  = "pk_test_YXNwaXJlbHktZGV2LmNsZXJrLmFjY291bnRzLmRldiQ="
)

// productionHosts are app hostnames served by the production identity instance.
var productionHosts = map[string]bool{
	"aspirely.ai":     true,
	"www.aspirely.ai": true,
}

var configDir string
var configFilePath string
var credentialsPath string

// getConfigDir returns platform-specific config directory
func getConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = home
		}
		return filepath.Join(appData, "aspirely", "cli"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "aspirely", "cli"), nil
}

func getSystemConfigPaths() []string {
	if runtime.GOOS == "windows" {
		return []string{filepath.Join(os.Getenv("ProgramFiles"), "Aspirely", "cli", "config.toml")}
	}
	return []string{
		"/etc/aspirely/cli/config.toml",
		"/usr/local/etc/aspirely/cli/config.toml",
	}
}

// Init initializes the configuration. An empty configPath selects the
// platform default location.
func Init(configPath string) error {
	var err error
	if configPath != "" {
		configDir = filepath.Dir(configPath)
		configFilePath = configPath
	} else {
		configDir, err = getConfigDir()
		if err != nil {
			return err
		}
		configFilePath = filepath.Join(configDir, "config.toml")
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return err
	}

	credentialsPath = filepath.Join(configDir, "credentials")

	// .env files stand in for build-time variables; existing env always wins.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	viper.Reset()
	viper.SetConfigType("toml")
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	for _, sysConfigPath := range getSystemConfigPaths() {
		if _, err := os.Stat(sysConfigPath); err == nil {
			viper.SetConfigFile(sysConfigPath)
			_ = viper.ReadInConfig()
			break
		}
	}

	viper.SetConfigFile(configFilePath)
	if _, err := os.Stat(configFilePath); err == nil {
		if err := viper.MergeInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFilePath, err)
		}
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("app.url", "https://aspirely.ai")

	viper.SetDefault("api.base_url", "https://api.aspirely.ai")
	viper.SetDefault("api.anon_key", "")
	viper.SetDefault("api.timeout", 30)

	viper.SetDefault("identity.publishable_key", "")
	viper.SetDefault("identity.token_template", "supabase")
	viper.SetDefault("identity.callback_port", 8976)

	viper.SetDefault("cache.backend", "file")
	viper.SetDefault("cache.dir", filepath.Join(configDir, "cache"))
	viper.SetDefault("cache.redis_addr", "localhost:6379")
	viper.SetDefault("cache.redis_password", "")
	viper.SetDefault("cache.sqlite_path", filepath.Join(configDir, "cache.db"))

	viper.SetDefault("auth.max_retries", 3)
	viper.SetDefault("auth.settle_delay_ms", 500)
	viper.SetDefault("auth.queue_size", 20)
	viper.SetDefault("auth.refresh_interval_s", 60)

	viper.SetDefault("generation.webhook_url", "")
	viper.SetDefault("generation.poll_interval_s", 3)
	viper.SetDefault("generation.timeout_s", 300)

	viper.SetDefault("output.format", "text")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", filepath.Join(configDir, "aspirely-cli.log"))

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.sampling_rate", 0.1)

	viper.SetDefault("metrics.addr", "")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func isPathKey(key string) bool {
	switch key {
	case "log.file", "cache.dir", "cache.sqlite_path":
		return true
	}
	return false
}

// GetString returns a string configuration value
func GetString(key string) string {
	value := viper.GetString(key)
	if isPathKey(key) {
		return expandPath(value)
	}
	return value
}

// GetInt returns an int configuration value
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool configuration value
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat returns a float configuration value
func GetFloat(key string) float64 {
	return viper.GetFloat64(key)
}

// GetSeconds reads an integer key as a number of seconds.
func GetSeconds(key string) time.Duration {
	return time.Duration(viper.GetInt(key)) * time.Second
}

// GetMillis reads an integer key as a number of milliseconds.
func GetMillis(key string) time.Duration {
	return time.Duration(viper.GetInt(key)) * time.Millisecond
}

// SetString sets a string configuration value for this process only.
func SetString(key string, value string) {
	viper.Set(key, value)
}

// Persist sets a value and writes the user config file.
func Persist(key string, value string) error {
	viper.Set(key, value)
	return viper.WriteConfigAs(configFilePath)
}

// AllSettings returns the merged configuration.
func AllSettings() map[string]interface{} {
	return viper.AllSettings()
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() string {
	return configDir
}

// GetConfigFilePath returns the user config file path
func GetConfigFilePath() string {
	return configFilePath
}

// GetCredentialsPath returns the path to the credentials file
func GetCredentialsPath() string {
	return credentialsPath
}

// IsProductionHost reports whether appURL points at the production app.
func IsProductionHost(appURL string) bool {
	u, err := url.Parse(appURL)
	if err != nil {
		return false
	}
	return productionHosts[strings.ToLower(u.Hostname())]
}

// PublishableKey returns the identity publishable key. An explicit
// identity.publishable_key wins; otherwise the key is picked by the
// app.url hostname from the environment, falling back to built-in keys.
func PublishableKey() string {
	if key := viper.GetString("identity.publishable_key"); key != "" {
		return key
	}
	if IsProductionHost(viper.GetString("app.url")) {
		if key := os.Getenv(envPublishableKeyProd); key != "" {
			return key
		}
		return fallbackPublishableKeyProd
	}
	if key := os.Getenv(envPublishableKeyDev); key != "" {
		return key
	}
	return fallbackPublishableKeyDev
}

// FrontendAPIHost decodes the identity frontend API host embedded in a
// publishable key of the form pk_(live|test)_base64("host$").
func FrontendAPIHost(publishableKey string) (string, error) {
	var encoded string
	switch {
	case strings.HasPrefix(publishableKey, "pk_live_"):
		encoded = strings.TrimPrefix(publishableKey, "pk_live_")
	case strings.HasPrefix(publishableKey, "pk_test_"):
		encoded = strings.TrimPrefix(publishableKey, "pk_test_")
	default:
		return "", fmt.Errorf("invalid publishable key prefix")
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return "", fmt.Errorf("decode publishable key: %w", err)
		}
	}

	host := strings.TrimSuffix(string(decoded), "$")
	if host == "" || !strings.HasSuffix(string(decoded), "$") {
		return "", fmt.Errorf("invalid publishable key payload")
	}
	return host, nil
}
