package fedis

import (
	"github.com/beyondkv/fedis/internal/config"
)

// OptionsFromConfig converts a parsed YAML document into constructor
// Options, so cmd/fedis-shell and library callers alike go through the
// same config.Load validation path before constructing a Client.
func OptionsFromConfig(cfg config.Config) Options {
	nodes := make(map[string]NodeDescriptor, len(cfg.Nodes))
	for name, n := range cfg.Nodes {
		nodes[name] = NodeDescriptor{Address: n.Address, Addresses: n.Addresses}
	}

	opts := Options{
		Nodes:             nodes,
		MasterOf:          cfg.MasterOf,
		Tag:               cfg.Tag,
		MaxHostRetries:    cfg.MaxHostRetries,
		BaseRetryInterval: cfg.BaseRetryInterval.Duration,
		RetryIntervalMult: cfg.RetryIntervalMult,
		RetrySlopSecs:     cfg.RetrySlopSecs.Duration,
		MaxRetryInterval:  cfg.MaxRetryInterval.Duration,
		IdleTimeout:       cfg.IdleTimeout.Duration,
		Persistent:        cfg.Persistent,
		ConnectTimeout:    cfg.ConnectTimeout.Duration,
		Debug:             cfg.Debug,
	}
	if cfg.CommandTimeout.Duration > 0 {
		opts.CommandTimeout = &cfg.CommandTimeout.Duration
	}
	return opts
}
