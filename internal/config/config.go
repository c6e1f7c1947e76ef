// Package config parses the YAML shape of the federated client's
// constructor options (the nodes / master_of table), plus the handful of
// tuning knobs the health tracker and connection cache accept.
package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration unmarshals from either a bare integer (seconds) or a Go
// duration string ("1.5s", "10s"), matching the donor project's
// config.Duration so operators can write either form in YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	if value.Value == "" {
		return nil
	}
	if value.Tag == "!!int" {
		seconds, err := strconv.Atoi(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration integer %q: %w", value.Value, err)
		}
		d.Duration = time.Duration(seconds) * time.Second
		return nil
	}
	if value.Tag == "!!float" {
		seconds, err := strconv.ParseFloat(value.Value, 64)
		if err != nil {
			return fmt.Errorf("invalid duration float %q: %w", value.Value, err)
		}
		d.Duration = time.Duration(seconds * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// NodeConfig is the YAML shape of one entry in config.nodes: either a
// single address or an ordered list of alternates. At least one of the
// two must be present.
type NodeConfig struct {
	Address   string   `yaml:"address"`
	Addresses []string `yaml:"addresses"`
}

// Config is the top-level YAML document accepted by config.Load. It
// mirrors the client's constructor options.
type Config struct {
	Nodes             map[string]NodeConfig `yaml:"nodes"`
	MasterOf          map[string]string     `yaml:"master_of"`
	Tag               string                `yaml:"tag"`
	CommandTimeout    Duration              `yaml:"command_timeout"`
	MaxHostRetries    int                   `yaml:"max_host_retries"`
	BaseRetryInterval Duration              `yaml:"base_retry_interval"`
	RetryIntervalMult float64               `yaml:"retry_interval_mult"`
	RetrySlopSecs     Duration              `yaml:"retry_slop_secs"`
	MaxRetryInterval  Duration              `yaml:"max_retry_interval"`
	IdleTimeout       Duration              `yaml:"idle_timeout"`
	Persistent        bool                  `yaml:"persistent"`
	ConnectTimeout    Duration              `yaml:"connect_timeout"`
	Debug             bool                  `yaml:"debug"`
}

// Load parses a YAML document into a Config. It performs no defaulting —
// defaulting is the constructor's job, so that Load and programmatic
// construction (fedis.Options) go through the exact same validation path.
func Load(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Nodes) == 0 {
		return Config{}, fmt.Errorf("config: at least one node is required")
	}
	for name, n := range cfg.Nodes {
		if n.Address == "" && len(n.Addresses) == 0 {
			return Config{}, fmt.Errorf("config: node %q has neither address nor addresses", name)
		}
	}
	return cfg, nil
}
