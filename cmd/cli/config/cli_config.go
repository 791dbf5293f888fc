// Package config loads dashctl settings: the engine configuration shared
// with the server plus CLI preferences.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	engineconfig "github.com/inferloop/dashengine/internal/config"
	"github.com/inferloop/dashengine/pkg/constants"
)

// EnvPrefix prefixes CLI preference overrides, e.g. DASHCTL_FORMAT=yaml.
const EnvPrefix = "DASHCTL"

type CLIConfig struct {
	// Engine is read from the same file the server uses.
	Engine      *engineconfig.Config
	Preferences Preferences
}

type Preferences struct {
	DefaultFormat string `mapstructure:"format"`
	Output        string `mapstructure:"output"`
	LogLevel      string `mapstructure:"log_level"`
}

// LoadConfig reads the engine configuration from cfgFile (or the default
// locations) and the preferences from the cli section and DASHCTL_*
// variables. The CLI logs warnings only unless asked otherwise.
func LoadConfig(cfgFile string) (*CLIConfig, error) {
	engine, err := engineconfig.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(filepath.Dir(GetDefaultConfigPath()))
	}

	v.SetDefault("cli.format", constants.FormatJSON)
	v.SetDefault("cli.output", "-")
	v.SetDefault("cli.log_level", "warn")
	for _, key := range []string{"format", "output", "log_level"} {
		if err := v.BindEnv("cli."+key, EnvPrefix+"_"+strings.ToUpper(key)); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Read key by key so environment overrides of nested keys apply.
	config := &CLIConfig{
		Engine: engine,
		Preferences: Preferences{
			DefaultFormat: v.GetString("cli.format"),
			Output:        v.GetString("cli.output"),
			LogLevel:      v.GetString("cli.log_level"),
		},
	}
	config.Engine.Logging.Level = config.Preferences.LogLevel

	return config, nil
}

// GetDefaultConfigPath returns $HOME/.dashengine/config.yaml.
func GetDefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+constants.AppName, "config.yaml")
}
