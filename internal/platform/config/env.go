// Package config loads deployment settings from the process environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Environment holds secrets and deployment overrides. Everything else lives
// in the JSON config file.
type Environment struct {
	ConfigFile       string `env:"FMGRAM_CONFIG_FILE"`
	DataDir          string `env:"FMGRAM_DATA_DIR" envDefault:"./data"`
	LogLevel         string `env:"FMGRAM_LOG_LEVEL"`
	LastFMAPIKey     string `env:"LASTFM_API_KEY,required,notEmpty"`
	LastFMAPISecret  string `env:"LASTFM_API_SECRET"`
	DiscogsToken     string `env:"DISCOGS_TOKEN"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
}

// LoadEnvironment parses Environment.
func LoadEnvironment() (Environment, error) {
	var loaded Environment
	if err := ParseEnv(&loaded); err != nil {
		return Environment{}, err
	}
	loaded.ConfigFile = strings.TrimSpace(loaded.ConfigFile)
	loaded.DataDir = filepath.Clean(strings.TrimSpace(loaded.DataDir))

	return loaded, nil
}

// DataPath joins name onto the data directory.
func (e Environment) DataPath(name string) string {
	return filepath.Join(e.DataDir, name)
}
