package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSeed_ParsesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
world: a dying radio network
mainCharacter: a lighthouse-keeper turned signals operator
genre: weird fiction
`), 0o644))

	cfg, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Equal(t, "a dying radio network", cfg.World)
	assert.Equal(t, "a lighthouse-keeper turned signals operator", cfg.MainCharacter)
	assert.Equal(t, "weird fiction", cfg.Genre)
}

func TestLoadSeed_MissingFileErrors(t *testing.T) {
	_, err := LoadSeed(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
