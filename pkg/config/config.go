// Package config provides a reusable loader for node configuration files
// and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"cwchain/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a cwchaind node. It mirrors the
// flag surface of cmd/cwchaind (chain id, gas limit, merkle cache/db path,
// query listen address, metrics) so a config file or environment variable
// can supply defaults that unset flags then layer over.
type Config struct {
	Chain struct {
		ID              string `mapstructure:"id" json:"id"`
		Bank            string `mapstructure:"bank" json:"bank"`
		DefaultPageSize int    `mapstructure:"default_page_size" json:"default_page_size"`
		GasLimit        uint64 `mapstructure:"gas_limit" json:"gas_limit"`
	} `mapstructure:"chain" json:"chain"`

	Merkle struct {
		CacheSize int    `mapstructure:"cache_size" json:"cache_size"`
		DBPath    string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"merkle" json:"merkle"`

	Query struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"query" json:"query"`

	Metrics struct {
		Enabled    bool   `mapstructure:"enabled" json:"enabled"`
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"metrics" json:"metrics"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads an optional "cwchaind" config file from the current directory
// or $HOME/.cwchaind, merges any environment-specific overrides, and folds
// in environment variables. A missing config file is not an error — callers
// that only need flag defaults run fine against the resulting zero-valued
// Config. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files (e.g. "devnet" merges cwchaind.devnet.yaml over cwchaind.yaml). If env
// is empty, only the base configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("cwchaind")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".cwchaind"))
	}
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName("cwchaind." + env)
		if err := viper.MergeInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	viper.AutomaticEnv() // picks up matching process environment variables

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CWCHAIN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CWCHAIN_ENV", ""))
}
