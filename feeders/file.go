package feeders

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FileFeeder feeds a structure from a file.
type FileFeeder interface {
	Feed(structure interface{}) error
	FeedKey(key string, target interface{}) error
}

// ForFile returns the feeder for path by its extension: .yaml, .yml or
// .toml.
func ForFile(path string) (FileFeeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlFeeder(path), nil
	case ".toml":
		return NewTomlFeeder(path), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, path)
	}
}
