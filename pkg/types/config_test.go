// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"border above one", func(c *Config) { c.Comparer.LevenshteinBorder = 1.5 }, "LevenshteinBorder"},
		{"negative intersection border", func(c *Config) { c.Comparer.IntersectionBorder = -0.1 }, "IntersectionBorder"},
		{"zero parallelism", func(c *Config) { c.Comparer.MaxParallelism = 0 }, "MaxParallelism"},
		{"zero batch size", func(c *Config) { c.Reconciler.BatchSize = 0 }, "BatchSize"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "oracle" }, "Driver"},
		{"missing dsn", func(c *Config) { c.Store.DSN = "" }, "DSN"},
		{"events without brokers", func(c *Config) { c.Events.Enabled = true }, "Brokers"},
		{"lock without addr", func(c *Config) { c.Lock.Enabled = true }, "Addr"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "Format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfigValidate_EnabledIntegrations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.Brokers = []string{"localhost:9092"}
	cfg.Lock.Enabled = true
	cfg.Lock.Addr = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}
