package feeders

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// TomlFeeder is a feeder that reads TOML files
type TomlFeeder struct {
	Path string
}

// NewTomlFeeder creates a new TomlFeeder that reads from the specified TOML file
func NewTomlFeeder(filePath string) TomlFeeder {
	return TomlFeeder{Path: filePath}
}

// Feed decodes the file into structure. Keys that match no field are
// reported as an error.
func (t TomlFeeder) Feed(structure interface{}) error {
	md, err := toml.DecodeFile(t.Path, structure)
	if err != nil {
		return fmt.Errorf("toml: %s: %w", t.Path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("toml: %s: unknown keys %s", t.Path, strings.Join(keys, ", "))
	}
	return nil
}

// FeedKey reads a TOML file and extracts a specific top-level key
func (t TomlFeeder) FeedKey(key string, target interface{}) error {
	var allData map[string]toml.Primitive
	md, err := toml.DecodeFile(t.Path, &allData)
	if err != nil {
		return fmt.Errorf("failed to read toml: %w", err)
	}
	value, exists := allData[key]
	if !exists {
		return nil
	}
	if err := md.PrimitiveDecode(value, target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}
