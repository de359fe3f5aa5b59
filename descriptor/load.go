package descriptor

import (
	"fmt"

	"github.com/GoCodeAlone/modwire/feeders"
)

// LoadModule reads a single-module descriptor. An empty location defaults
// to path.
func LoadModule(path string) (*Module, error) {
	feeder, err := feeders.ForFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	var m Module
	if err := feeder.Feed(&m); err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", path, err)
	}
	if m.Location == "" {
		m.Location = path
	}
	return &m, nil
}

// LoadUniverse reads a universe file and validates its locations.
func LoadUniverse(path string) (*Universe, error) {
	feeder, err := feeders.ForFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	var u Universe
	if err := feeder.Feed(&u); err != nil {
		return nil, fmt.Errorf("universe %s: %w", path, err)
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("universe %s: %w", path, err)
	}
	return &u, nil
}
