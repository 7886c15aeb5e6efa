// Package env loads defaults for command line options from the environment.
package env

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds settings that may come from the environment.  Explicit
// command line flags take precedence.
type Config struct {
	// BufferMiB is the decoding window per stream direction, in MiB.
	BufferMiB int `env:"RESPSNIFF_BUFFER_MIB,default=1"`
	// MaxDepth limits array nesting; zero means no limit.
	MaxDepth int `env:"RESPSNIFF_MAX_DEPTH,default=0"`
	// Ports are the server ports to watch.
	Ports []int `env:"RESPSNIFF_PORTS,default=6379"`
	// Format is the report descriptor.  Empty means the built-in default.
	Format string `env:"RESPSNIFF_FORMAT"`
	// LogJSON switches logging to structured JSON.
	LogJSON bool `env:"RESPSNIFF_LOG_JSON,default=false"`
}

// DotEnvFile is loaded, if present, before the environment is read.
// Variables already set in the environment are not overridden.
const DotEnvFile = ".env.local"

// fileConfig is the layout of a TOML config file.
type fileConfig struct {
	BufferMiB int    `toml:"buffer_mib"`
	MaxDepth  int    `toml:"max_depth"`
	Ports     []int  `toml:"ports"`
	Format    string `toml:"format"`
	LogJSON   bool   `toml:"log_json"`
}

// LoadConfig reads Config from the process environment.  If path is not
// empty the TOML file it names supplies values for variables that are not
// set in the environment.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	l := envconfig.OsLookuper()
	config, err := load(ctx, l)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err = overlayFile(config, path, l); err != nil {
			return nil, err
		}
	}
	return config, nil
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	config := Config{}
	if err := envconfig.ProcessWith(ctx, &config, l); err != nil {
		return nil, err
	}
	return &config, nil
}

func overlayFile(config *Config, path string, l envconfig.Lookuper) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config file: unknown key %q", undecoded[0].String())
	}
	use := func(key, envName string) bool {
		if !meta.IsDefined(key) {
			return false
		}
		_, inEnv := l.Lookup(envName)
		return !inEnv
	}
	if use("buffer_mib", "RESPSNIFF_BUFFER_MIB") {
		config.BufferMiB = raw.BufferMiB
	}
	if use("max_depth", "RESPSNIFF_MAX_DEPTH") {
		config.MaxDepth = raw.MaxDepth
	}
	if use("ports", "RESPSNIFF_PORTS") {
		config.Ports = raw.Ports
	}
	if use("format", "RESPSNIFF_FORMAT") {
		config.Format = raw.Format
	}
	if use("log_json", "RESPSNIFF_LOG_JSON") {
		config.LogJSON = raw.LogJSON
	}
	return nil
}
