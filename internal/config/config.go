// Package config holds the viper-backed configuration singleton.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be called
// once at application startup.
//
// Precedence: project .lifetrace/config.yaml (walking up from CWD), then
// ~/.config/lifetrace/config.yaml. Environment variables with the LIFETRACE_
// prefix override the file; LIFETRACE_DB_PATH maps to "db_path".
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// Walk up from CWD to find a project config so commands work from
	// subdirectories.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".lifetrace", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "lifetrace", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("LIFETRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "lifetrace.db")
	v.SetDefault("pool_size", 10)
	v.SetDefault("environment", "development")
	v.SetDefault("api_v1_prefix", "/api/v1")
	v.SetDefault("listen_addr", ":8080")

	v.SetDefault("cors.origins", []string{"*"})
	v.SetDefault("cors.credentials", false)
	v.SetDefault("cors.methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.headers", []string{"Origin", "Content-Type", "Accept", "Authorization"})

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("llm_api_key", "")
	v.SetDefault("llm_model", "")
	v.SetDefault("embed_model", "")
	v.SetDefault("notes_api_key", "")
	v.SetDefault("calendar_credentials_path", "")
	v.SetDefault("resources_dir", ".lifetrace/resources")
	v.SetDefault("tagging_log_file", "")
	v.SetDefault("api_token", "")
}

func ensure() *viper.Viper {
	if v == nil {
		_ = Initialize()
	}
	return v
}

// GetString returns a string config value.
func GetString(key string) string { return ensure().GetString(key) }

// GetInt returns an int config value.
func GetInt(key string) int { return ensure().GetInt(key) }

// GetBool returns a bool config value.
func GetBool(key string) bool { return ensure().GetBool(key) }

// GetStringSlice returns a string-slice config value.
func GetStringSlice(key string) []string { return ensure().GetStringSlice(key) }

// IsDevelopment reports whether the environment is development, which
// enables the auth bypass.
func IsDevelopment() bool { return GetString("environment") == "development" }

// Set overrides a config value (flag binding and tests).
func Set(key string, value any) { ensure().Set(key, value) }
