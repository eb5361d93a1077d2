package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configFileName = "vaultctl"
	configFileType = "yaml"
	envPrefix      = "FLEETVAULT"

	cfgKeyServer = "server"
	cfgKeyActor  = "actor"
	cfgKeyOutput = "output"

	defaultServer = "http://127.0.0.1:8080"
	defaultOutput = "text"
)

// loadConfig resolves settings with precedence flag > FLEETVAULT_* env >
// vaultctl.yaml > default. A missing config file is not an error unless it
// was named explicitly with --config.
func loadConfig(configFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyServer, defaultServer)
	v.SetDefault(cfgKeyActor, defaultActor())
	v.SetDefault(cfgKeyOutput, defaultOutput)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	for _, key := range []string{cfgKeyServer, cfgKeyActor, cfgKeyOutput} {
		if err := v.BindPFlag(key, flags.Lookup(key)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "fleetvault"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	return v, nil
}

// defaultActor names the operator in audit entries when nothing else does.
func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "vaultctl"
}
