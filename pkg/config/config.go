// Package config loads application settings from an optional YAML file and
// the environment.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Backend BackendConfig `mapstructure:"backend"`
	Intake  IntakeConfig  `mapstructure:"intake"`
	Log     LogConfig     `mapstructure:"log"`
}

type StorageConfig struct {
	// DataDir holds the durable conversation record. Defaults to
	// ~/.palaver.
	DataDir string `mapstructure:"data_dir"`
	Slot    string `mapstructure:"slot"`
}

type BackendConfig struct {
	// APIKey may also come from the PALAVER_API_KEY or GEMINI_API_KEY
	// environment variables.
	APIKey string `mapstructure:"api_key"`
}

type IntakeConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the config file at path if it exists, then applies environment
// overrides and defaults. A missing file is not an error; everything has a
// usable default.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PALAVER")
	v.AutomaticEnv()

	v.SetDefault("storage.slot", "conversations")
	v.SetDefault("intake.poll_interval", 2*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(errors.Cause(err)) {
				return nil, errors.Wrap(err, "failed to read config file")
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if cfg.Storage.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve home directory")
		}
		cfg.Storage.DataDir = filepath.Join(home, ".palaver")
	}

	if cfg.Backend.APIKey == "" {
		if key := os.Getenv("PALAVER_API_KEY"); key != "" {
			cfg.Backend.APIKey = key
		} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			cfg.Backend.APIKey = key
		}
	}

	return cfg, nil
}
