package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2000000, cfg.Search.ChunkSize)
	assert.Equal(t, 30, cfg.Lengths.Desc)
	assert.Equal(t, 6, cfg.Lengths.Name)
	assert.Equal(t, 10, cfg.Search.DefaultK)
	assert.Equal(t, 10000, cfg.Vocab.TopDescs)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codesearch.yaml")
	yaml := `
data:
  workdir: /srv/corpus
search:
  chunkSize: 500
  timeout: 3s
model:
  name: java_small
  epoch: 12
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	t.Setenv("CS_MODEL_EPOCH", "40")
	t.Setenv("CS_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Search.ChunkSize)
	assert.Equal(t, 3*time.Second, cfg.Search.Timeout)
	assert.Equal(t, "java_small", cfg.Model.Name)
	assert.Equal(t, 40, cfg.Model.Epoch)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "/srv/corpus/use.rawcode.txt", cfg.Path(cfg.Data.Codebase))
	assert.Equal(t, "/abs/vocab.csv", cfg.Path("/abs/vocab.csv"))
}

func TestValidate(t *testing.T) {
	tests := map[string]func(c *Config){
		"chunk size":      func(c *Config) { c.Search.ChunkSize = 0 },
		"desc length":     func(c *Config) { c.Lengths.Desc = 0 },
		"api length":      func(c *Config) { c.Lengths.API = -1 },
		"default above k": func(c *Config) { c.Search.DefaultK = c.Search.MaxK + 1 },
		"workers":         func(c *Config) { c.Search.Workers = -2 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), apperrors.ErrConfiguration)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
