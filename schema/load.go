package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a schema declaration:
//
//	types:
//	  - label: Environment
//	    identity: [account_number, name]
//	  - label: Host
//	    parent: Environment
//	    relationship: HAS_HOST
//	    identity: [hostname, environment]
//	    state: [kernel]
type File struct {
	Types []EntityType `yaml:"types"`
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return New(f.Types...)
}

// Load reads and parses a schema file. An empty path returns Default().
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return Parse(data)
}
