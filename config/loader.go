package config

import (
	"fmt"
	"strings"

	"github.com/LambdaTest/flakewatch/pkg/constants"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Load loads config from command instance to predefined config variables
func Load(cmd *cobra.Command) (*Config, error) {
	err := viper.BindPFlags(cmd.Flags())
	if err != nil {
		return nil, err
	}

	// default viper configs
	viper.SetEnvPrefix("FW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// set default configs
	setDefaultConfig()

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(".fw")
		viper.AddConfigPath("./")
		viper.AddConfigPath("/vault/secrets")
	}

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("Warning: No configuration file found. Proceeding with defaults")
	}

	return populateConfig(new(ConfigWrapper))
}

func populateConfig(wrapper *ConfigWrapper) (*Config, error) {
	if err := viper.Unmarshal(wrapper); err != nil {
		return nil, err
	}
	cfg := &wrapper.Config
	// flags are bound at the top level, they win over the config file
	if port := viper.GetString("port"); port != "" {
		cfg.Port = port
	}
	if viper.IsSet("verbose") {
		cfg.Verbose = viper.GetBool("verbose")
	}
	if logFile := viper.GetString("log-file"); logFile != "" {
		cfg.LogFile = logFile
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	switch cfg.Env {
	case constants.Dev, constants.Stage, constants.Prod:
	default:
		return errs.ErrInvalidEnvironemt
	}
	switch cfg.Artifacts.Provider {
	case constants.ArtifactProviderGitHub, constants.ArtifactProviderAzure:
	default:
		return errs.ErrUnknownArtifactProvider
	}
	return nil
}
