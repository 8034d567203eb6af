package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

// LoadSeed reads a YAML file describing a book's starting Config, for
// bootstrapping a demo book at process startup via the server's --seed
// flag. The file shape mirrors storymodel.Config's own fields:
//
//	world: a dying radio network
//	mainCharacter: a lighthouse-keeper turned signals operator
//	genre: weird fiction
func LoadSeed(path string) (*storymodel.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read seed file: %w", err)
	}
	var cfg storymodel.Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse seed file: %w", err)
	}
	return &cfg, nil
}
