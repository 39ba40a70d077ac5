package config

import (
	"os"
	"path/filepath"

	"androidssh/internal/logger"
	"androidssh/internal/settings"

	"github.com/joho/godotenv"
)

func init() {
	envFiles := []string{
		".env",
	}

	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("Error loading %s: %v", envFile, err)
			}
		}
	}

	Config.SettingsPath = GetEnv("ANDROID_SSH_CONFIG", getDefaultSettingsPath(settings.ConfigFileName))
	Config.LogLevel = GetEnv("ANDROID_SSH_LOG_LEVEL", "info")
}

func GetEnv(key string, defaultValue string) string {
	value := os.Getenv(key)

	if value == "" {
		return defaultValue
	}

	return value
}

func getDefaultSettingsPath(fallback string) string {
	path, err := settings.DefaultPath()
	if err != nil {
		logger.Warn("Could not determine config directory: %v", err)
		return filepath.Clean(fallback)
	}
	return path
}

type Configuration struct {
	// SettingsPath is the device connection settings file.
	SettingsPath string
	LogLevel     string
}

// Config is populated in init, after .env has been loaded.
var Config = &Configuration{}
