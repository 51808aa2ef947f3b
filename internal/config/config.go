// Package config loads phabmirror settings: a project-local
// .phabmirror/config.yaml, overridable through PHABMIRROR_* environment
// variables.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// Walk up from CWD so commands work from subdirectories.
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".phabmirror", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// Fall back to the user config directory.
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "phabmirror", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over the config file.
	// E.g. PHABMIRROR_PHAB_TOKEN maps to "phab.token".
	v.SetEnvPrefix("PHABMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("phab.url", "")
	v.SetDefault("phab.token", "")
	v.SetDefault("delay", 0)
	v.SetDefault("actor", "Maintenance script")

	v.SetDefault("templates.task", "Phabricator Task")
	v.SetDefault("templates.project", "Phabricator Project")
	v.SetDefault("templates.user", "Phabricator User")
	v.SetDefault("templates.transition", "Transition")

	// Backend is "dir" or "sqlite".
	v.SetDefault("store.backend", "dir")
	v.SetDefault("store.path", "pages")

	v.SetDefault("graph.width", 800)
	v.SetDefault("graph.height", 800)
	v.SetDefault("graph.statuses", "open,stalled")
	v.SetDefault("graph.port", 7171)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}

// GetString returns a config value as a string.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetInt returns a config value as an int.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// Set overrides a config value at runtime, mainly for flag binding.
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}

// ConfigFileUsed reports the loaded config file path, empty when only
// defaults and environment variables apply.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}
