package feeders

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// YamlFeeder is a feeder that reads YAML files
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a new YamlFeeder that reads from the specified YAML file
func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{Path: filePath}
}

// Feed decodes the file into structure. Fields absent from the file keep
// their value. Unknown keys are rejected.
func (y YamlFeeder) Feed(structure interface{}) error {
	f, err := os.Open(y.Path)
	if err != nil {
		return fmt.Errorf("yaml: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(structure); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("yaml: %s: %w", y.Path, err)
	}
	return nil
}

// FeedKey reads a YAML file and extracts a specific top-level key
func (y YamlFeeder) FeedKey(key string, target interface{}) error {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return fmt.Errorf("yaml: %w", err)
	}
	var allData map[string]yaml.Node
	if err := yaml.Unmarshal(data, &allData); err != nil {
		return fmt.Errorf("failed to read YAML: %w", err)
	}
	node, exists := allData[key]
	if !exists {
		return nil
	}
	if err := node.Decode(target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}
