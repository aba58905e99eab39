// Package config loads the startup wiring that selects and sizes the
// transport layer. TOML and YAML files are supported, switched on the
// file suffix.
package config

import (
	"os"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Global struct {
	LogLevel string `yaml:"log_level" toml:"log_level"`
}

type Transport struct {
	Backend        string `yaml:"backend" toml:"backend"`
	MaxConnections int    `yaml:"max_connections" toml:"max_connections"`
	PollCapacity   int    `yaml:"poll_capacity" toml:"poll_capacity"`
	ListenAddress  string `yaml:"listen_address" toml:"listen_address"`
	Port           int    `yaml:"port" toml:"port"`
	Backlog        int    `yaml:"backlog" toml:"backlog"`
}

type Trace struct {
	Dir string `yaml:"dir" toml:"dir"`
}

type Config struct {
	Global    Global    `yaml:"global" toml:"global"`
	Transport Transport `yaml:"transport" toml:"transport"`
	Trace     Trace     `yaml:"trace" toml:"trace"`
}

func Load(filePath string) (*Config, error) {
	file, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	config := Default()
	if strings.HasSuffix(filePath, ".toml") {
		err = toml.Unmarshal(file, config)
	} else if strings.HasSuffix(filePath, ".yaml") || strings.HasSuffix(filePath, ".yml") {
		err = yaml.Unmarshal(file, config)
	} else {
		return nil, errors.Errorf("unsupported config format: %s", filePath)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", filePath)
	}

	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func Default() *Config {
	return &Config{
		Global: Global{LogLevel: "info"},
		Transport: Transport{
			Backend:        "tcp",
			MaxConnections: 1024,
			PollCapacity:   1032,
			Backlog:        5,
		},
	}
}

func validate(config *Config) error {
	// Same sizing contract NewPollSet enforces; failing here points at
	// the config file instead of the poll set constructor.
	if config.Transport.PollCapacity <= config.Transport.MaxConnections {
		return errors.Errorf("poll_capacity %d must exceed max_connections %d",
			config.Transport.PollCapacity, config.Transport.MaxConnections)
	}
	if config.Transport.Port < 0 || config.Transport.Port > 65535 {
		return errors.Errorf("port %d out of range", config.Transport.Port)
	}
	return nil
}

func (g Global) ZerologLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(g.LogLevel))
	if err != nil || g.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}
