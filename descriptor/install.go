package descriptor

import (
	"errors"
	"fmt"

	"github.com/GoCodeAlone/modwire"
)

// Install installs every module of the universe in order. Modules that fail
// to install are skipped and their errors joined.
func (u *Universe) Install(c *modwire.Container) ([]*modwire.Module, error) {
	var (
		installed []*modwire.Module
		errs      []error
	)
	for _, d := range u.Modules {
		m, err := c.Install(nil, d.Location, d.Builder())
		if err != nil {
			errs = append(errs, fmt.Errorf("install %s: %w", d.Location, err))
			continue
		}
		installed = append(installed, m)
	}
	return installed, errors.Join(errs...)
}
