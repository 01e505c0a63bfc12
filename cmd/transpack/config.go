package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/transpack/internal/logger"
)

// Config represents the transpack configuration file
// (~/.config/transpack/config.yaml). Explicit CLI flags always win.
type Config struct {
	OutputDir    string `yaml:"output_dir"`
	Quantization string `yaml:"quantization"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "transpack", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file does
// not exist or cannot be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// newLogger builds the process logger from the root flags, falling back to
// config file defaults when the flags were not set explicitly.
func newLogger(cmd *cli.Command, cfg Config) logger.Logger {
	levelName := cmd.String("log-level")
	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		levelName = cfg.LogLevel
	}
	format := cmd.String("log-format")
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		format = cfg.LogFormat
	}

	level := logger.ParseLevel(levelName)
	switch format {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.Text(os.Stderr, level)
	default:
		return logger.Pretty(os.Stderr, level)
	}
}
