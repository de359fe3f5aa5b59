// Package descriptor reads module descriptors from YAML and TOML files and
// turns them into revision builders.
//
// A module descriptor names the module and lists what it exports and
// imports:
//
//	symbolicName: org.example.api
//	version: 1.2.0
//	singleton: true
//	exports:
//	  - package: org.example.api
//	    version: 1.2.0
//	imports:
//	  - package: org.example.util
//	    version: "[1.0,2.0)"
//
// A universe file holds a list of modules, each with a location.
package descriptor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/GoCodeAlone/modwire"
)

// Descriptor errors
var (
	ErrUnsupportedFormat = errors.New("unsupported descriptor format")
	ErrMissingLocation   = errors.New("module location is required")
	ErrDuplicateLocation = errors.New("duplicate module location")
)

// IsDescriptorFile reports whether path has a descriptor extension.
func IsDescriptorFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".toml":
		return true
	default:
		return false
	}
}

// Module describes one module revision.
type Module struct {
	Location       string              `yaml:"location,omitempty" toml:"location"`
	SymbolicName   string              `yaml:"symbolicName" toml:"symbolic_name"`
	Version        string              `yaml:"version,omitempty" toml:"version"`
	Singleton      bool                `yaml:"singleton,omitempty" toml:"singleton"`
	Lazy           bool                `yaml:"lazy,omitempty" toml:"lazy"`
	Autostart      bool                `yaml:"autostart,omitempty" toml:"autostart"`
	StartLevel     int                 `yaml:"startLevel,omitempty" toml:"start_level"`
	FragmentHost   *Host               `yaml:"fragmentHost,omitempty" toml:"fragment_host"`
	Exports        []Export            `yaml:"exports,omitempty" toml:"exports"`
	Imports        []Import            `yaml:"imports,omitempty" toml:"imports"`
	DynamicImports []Import            `yaml:"dynamicImports,omitempty" toml:"dynamic_imports"`
	Requires       []Require           `yaml:"requires,omitempty" toml:"requires"`
	Capabilities   []GenericCapability `yaml:"capabilities,omitempty" toml:"capabilities"`
	Requirements   []GenericCapability `yaml:"requirements,omitempty" toml:"requirements"`
}

// Host names the host a fragment attaches to.
type Host struct {
	SymbolicName string `yaml:"symbolicName" toml:"symbolic_name"`
	Version      string `yaml:"version,omitempty" toml:"version"`
}

// Export is an exported package.
type Export struct {
	Package    string         `yaml:"package" toml:"package"`
	Version    string         `yaml:"version,omitempty" toml:"version"`
	Attributes map[string]any `yaml:"attributes,omitempty" toml:"attributes"`
	Mandatory  []string       `yaml:"mandatory,omitempty" toml:"mandatory"`
}

// Import is an imported package. For dynamic imports the package may be a
// wildcard pattern.
type Import struct {
	Package  string `yaml:"package" toml:"package"`
	Version  string `yaml:"version,omitempty" toml:"version"`
	Optional bool   `yaml:"optional,omitempty" toml:"optional"`
}

// Require is a dependency on another module.
type Require struct {
	Module   string `yaml:"module" toml:"module"`
	Version  string `yaml:"version,omitempty" toml:"version"`
	Optional bool   `yaml:"optional,omitempty" toml:"optional"`
}

// GenericCapability is a capability or requirement in an arbitrary
// namespace. Requirements carry their filter in the "filter" directive.
type GenericCapability struct {
	Namespace  string            `yaml:"namespace" toml:"namespace"`
	Attributes map[string]any    `yaml:"attributes,omitempty" toml:"attributes"`
	Directives map[string]string `yaml:"directives,omitempty" toml:"directives"`
}

// Universe is a set of modules installed together.
type Universe struct {
	Modules []Module `yaml:"modules" toml:"modules"`
}

// Builder converts the descriptor into a revision builder. Missing versions
// default to 0.0.0 and missing ranges match any version. Invalid versions or
// ranges surface when the builder is installed.
func (m Module) Builder() *modwire.RevisionBuilder {
	b := modwire.NewRevisionBuilder().
		SymbolicName(m.SymbolicName).
		Version(m.Version).
		StartLevel(m.StartLevel)
	if m.Singleton {
		b.Singleton()
	}
	if m.Lazy {
		b.Lazy()
	}
	if m.FragmentHost != nil {
		b.FragmentHost(m.FragmentHost.SymbolicName, m.FragmentHost.Version)
	}

	for _, e := range m.Exports {
		if len(e.Attributes) == 0 && len(e.Mandatory) == 0 {
			b.ExportPackage(e.Package, e.Version)
			continue
		}
		b.ExportPackageWith(e.Package, e.Version, e.Attributes, e.Mandatory)
	}
	for _, i := range m.Imports {
		if i.Optional {
			b.ImportPackageOptional(i.Package, i.Version)
		} else {
			b.ImportPackage(i.Package, i.Version)
		}
	}
	for _, d := range m.DynamicImports {
		b.DynamicImport(d.Package, d.Version)
	}
	for _, r := range m.Requires {
		if r.Optional {
			b.RequireModuleOptional(r.Module, r.Version)
		} else {
			b.RequireModule(r.Module, r.Version)
		}
	}
	for _, c := range m.Capabilities {
		b.AddCapability(c.Namespace, c.Attributes, c.Directives)
	}
	for _, r := range m.Requirements {
		b.AddRequirement(r.Namespace, r.Attributes, r.Directives)
	}
	return b
}

// Validate checks that every module of the universe has a unique location.
func (u *Universe) Validate() error {
	seen := make(map[string]bool, len(u.Modules))
	for i, m := range u.Modules {
		if m.Location == "" {
			return fmt.Errorf("%w: module %d (%s)", ErrMissingLocation, i, m.SymbolicName)
		}
		if seen[m.Location] {
			return fmt.Errorf("%w: %s", ErrDuplicateLocation, m.Location)
		}
		seen[m.Location] = true
	}
	return nil
}
