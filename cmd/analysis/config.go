package main

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jcalabro/sparsebloom"
	"github.com/jcalabro/sparsebloom/snapshot"
)

const (
	configName = ".sparsebloom"
	configType = "yaml"
	envPrefix  = "SPARSEBLOOM"
)

// Defaults used when neither a flag, an env var nor the config file sets a value.
const (
	defaultSize        = "KeyBytes2"
	defaultHash        = "xxh3"
	defaultCompression = "zstd"
	defaultWorkers     = 1
	defaultLogFormat   = "text"
)

// Config holds the settings shared by the filter commands.
type Config struct {
	Size        string `mapstructure:"size"`
	Hash        string `mapstructure:"hash"`
	Compression string `mapstructure:"compression"`
	Workers     int    `mapstructure:"workers"`
	LogFormat   string `mapstructure:"log_format"`

	size        sparsebloom.FilterSize
	hash        sparsebloom.HashAlgorithm
	compression snapshot.Compression
}

// flagKeys maps config keys to the flags that override them.
var flagKeys = map[string]string{
	"size":        "size",
	"hash":        "hash",
	"compression": "compression",
	"workers":     "workers",
	"log_format":  "log-format",
}

// loadConfig merges defaults, the config file, SPARSEBLOOM_* env vars and
// any flags set on the command, in increasing order of precedence. A missing
// config file is not an error.
func loadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("size", defaultSize)
	v.SetDefault("hash", defaultHash)
	v.SetDefault("compression", defaultCompression)
	v.SetDefault("workers", defaultWorkers)
	v.SetDefault("log_format", defaultLogFormat)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			fl := flags.Lookup(name)
			if fl == nil || !fl.Changed {
				continue
			}
			if err := v.BindPFlag(key, fl); err != nil {
				return nil, errors.Wrapf(err, "bind flag %q", name)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

// Validate parses the string settings.
func (c *Config) Validate() error {
	var err error
	if c.size, err = sparsebloom.ParseFilterSize(c.Size); err != nil {
		return err
	}
	if c.hash, err = sparsebloom.ParseHashAlgorithm(c.Hash); err != nil {
		return err
	}
	if c.compression, err = snapshot.ParseCompression(c.Compression); err != nil {
		return err
	}
	if c.Workers < 1 {
		return errors.Newf("workers must be at least 1, got %d", c.Workers)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.Newf("unknown log format %q", c.LogFormat)
	}
	return nil
}

func (c *Config) snapshotOptions() snapshot.Options {
	return snapshot.Options{Compression: c.compression, Hash: c.hash}
}
