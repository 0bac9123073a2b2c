package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/vda5050/client"
	"github.com/kilianp07/vda5050/core/metrics"
	"github.com/kilianp07/vda5050/infra/journal"
	"github.com/kilianp07/vda5050/infra/mqtt"
	"github.com/kilianp07/vda5050/internal/simulator"
)

// EnvPrefix marks environment overrides. K_MQTT__BROKER sets mqtt.broker.
const EnvPrefix = "K_"

type Config struct {
	MQTT      mqtt.Config      `json:"mqtt"`
	Client    client.Config    `json:"client"`
	Simulator simulator.Config `json:"simulator"`
	Metrics   metrics.Config   `json:"metrics"`
	Journal   journal.Config   `json:"journal"`
	Sentry    SentryConfig     `json:"sentry"`
}

// Load reads path (YAML or JSON) and applies environment overrides. An
// empty path loads the environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps K_CLIENT__SERIAL_NUMBER to client.serial_number.
func envKey(s string) string {
	s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.MQTT.SetDefaults()
	c.Client.SetDefaults()
	c.Simulator.SetDefaults()
	c.Journal.SetDefaults()
}

// Validate checks every section and reports all failures at once. The
// client identity is checked when a role client is built since the agent
// simulator assigns serial numbers itself.
func (c Config) Validate() error {
	var errs []error
	if err := c.MQTT.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Simulator.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("simulator: %w", err))
	}
	if err := c.Journal.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
