package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func TestLoadOrDefault_MissingFileKeepsDefaults(t *testing.T) {
	cfg := &sample{Name: "default", Port: 1}
	loaded, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"), cfg)
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Equal(t, &sample{Name: "default", Port: 1}, cfg)
}

func TestLoadOrDefault_ValidatesDefaults(t *testing.T) {
	_, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"), &sample{})
	assert.ErrorContains(t, err, "name is required")
}

func TestLoadOrDefault_ReadsFile(t *testing.T) {
	t.Setenv("SAMPLE_PORT", "8088")
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: file\nport: ${SAMPLE_PORT}\n"), 0o644))

	cfg := &sample{Name: "default"}
	loaded, err := LoadOrDefault(path, cfg)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, &sample{Name: "file", Port: 8088}, cfg)
}
