// Package feeders provides configuration feeders for reading data from
// environment variables and from YAML and TOML files.
package feeders

import (
	"errors"
	"fmt"
)

// Static error definitions for feeders to comply with linting rules
var (
	ErrInvalidStructure    = errors.New("expected pointer to struct")
	ErrUnsupportedFileType = errors.New("unsupported config file type")
	ErrEnvCannotConvert    = errors.New("env: cannot convert value to field type")
	ErrEnvEmptyPrefix      = errors.New("env: prefix cannot be empty")
)

func wrapStructureError(got interface{}) error {
	return fmt.Errorf("%w, got %T", ErrInvalidStructure, got)
}
