package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			env:  map[string]string{"PRICERULES_DATABASE_URL": "postgres://localhost/pricerules"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "postgres://localhost/pricerules", cfg.DatabaseURL)
				assert.Equal(t, defaultAddr, cfg.Addr)
				assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
				assert.Equal(t, 8, cfg.Eval.Concurrency)
				assert.Equal(t, uint(100000), cfg.CodeIndex.Capacity)
				assert.InDelta(t, 0.001, cfg.CodeIndex.FalsePositiveRate, 1e-9)
				assert.Equal(t, 3*time.Second, cfg.Graceful.ReadinessDelay)
				assert.Equal(t, 15*time.Second, cfg.Graceful.ShutdownTimeout)
			},
		},
		{
			name: "platform variables",
			env:  map[string]string{"DATABASE_URL": "postgres://db/shop", "PORT": "9090"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "postgres://db/shop", cfg.DatabaseURL)
				assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
			},
		},
		{
			name: "explicit address wins over PORT",
			env: map[string]string{
				"PRICERULES_DATABASE_URL": "postgres://localhost/pricerules",
				"PRICERULES_ADDR":         "127.0.0.1:7000",
				"PORT":                    "9090",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
			},
		},
		{
			name: "environment overrides",
			env: map[string]string{
				"PRICERULES_DATABASE_URL":     "postgres://localhost/pricerules",
				"PRICERULES_CACHE_TTL":        "30s",
				"PRICERULES_EVAL_CONCURRENCY": "2",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
				assert.Equal(t, 2, cfg.Eval.Concurrency)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			t.Setenv("PORT", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := loadConfig([]string{})
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PRICERULES_DATABASE_URL", "")

	_, err := loadConfig([]string{})
	require.Error(t, err)
}
