package modwire

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GoCodeAlone/modwire/filter"
	"github.com/GoCodeAlone/modwire/version"
)

// Well-known namespaces. Namespaces are open strings; these are the ones the
// container itself generates or treats specially.
const (
	NamespaceIdentity             = "identity"
	NamespaceModule               = "module"
	NamespaceHost                 = "host"
	NamespacePackage              = "package"
	NamespaceExecutionEnvironment = "ee"
)

// Well-known attributes.
const (
	AttributeVersion = "version"
	AttributeType    = "type"

	IdentityTypeModule   = "module"
	IdentityTypeFragment = "fragment"
)

// Well-known directives.
const (
	DirectiveFilter     = "filter"
	DirectiveMandatory  = "mandatory"
	DirectiveEffective  = "effective"
	DirectiveResolution = "resolution"
	DirectiveSingleton  = "singleton"

	EffectiveResolve = "resolve"

	ResolutionMandatory = "mandatory"
	ResolutionOptional  = "optional"
	ResolutionDynamic   = "dynamic"
)

// Capability is something a revision offers. A capability merged from a
// fragment into a host is a hosted copy: Revision reports the host and
// Declared reports the fragment's original capability.
type Capability struct {
	namespace  string
	attributes map[string]any
	directives map[string]string
	revision   *Revision
	declared   *Capability
	index      int
}

// Namespace returns the capability namespace.
func (c *Capability) Namespace() string { return c.namespace }

// Attributes returns the attribute map. Callers must not modify it.
func (c *Capability) Attributes() map[string]any { return c.attributes }

// Directives returns the directive map. Callers must not modify it.
func (c *Capability) Directives() map[string]string { return c.directives }

// Revision returns the revision offering the capability.
func (c *Capability) Revision() *Revision { return c.revision }

// Declared returns the capability as declared by its original revision.
func (c *Capability) Declared() *Capability {
	if c.declared != nil {
		return c.declared
	}
	return c
}

// IsHosted reports whether the capability was contributed by a fragment.
func (c *Capability) IsHosted() bool { return c.declared != nil }

// Name returns the attribute named after the namespace, which by convention
// carries the capability's name ("package" for a package capability).
func (c *Capability) Name() string {
	s, _ := c.attributes[c.namespace].(string)
	return s
}

// Version returns the version attribute, falling back to the revision's
// version.
func (c *Capability) Version() version.Version {
	switch v := c.attributes[AttributeVersion].(type) {
	case version.Version:
		return v
	case string:
		if parsed, err := version.Parse(v); err == nil {
			return parsed
		}
	}
	if c.revision != nil {
		return c.revision.Version()
	}
	return version.Empty
}

// IsEffective reports whether the capability takes part in resolution.
func (c *Capability) IsEffective() bool {
	e := c.directives[DirectiveEffective]
	return e == "" || e == EffectiveResolve
}

// MandatoryAttributes lists the attributes a requirement filter must mention
// to match this capability.
func (c *Capability) MandatoryAttributes() []string {
	raw := c.directives[DirectiveMandatory]
	if raw == "" {
		return nil
	}
	var names []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (c *Capability) String() string {
	return fmt.Sprintf("%s%s", c.namespace, formatAttributes(c.attributes))
}

// NewHostedCapability returns the copy of a fragment capability offered by
// host.
func NewHostedCapability(host *Revision, declared *Capability) *Capability {
	declared = declared.Declared()
	return &Capability{
		namespace:  declared.namespace,
		attributes: declared.attributes,
		directives: declared.directives,
		revision:   host,
		declared:   declared,
		index:      declared.index,
	}
}

// Requirement is a filtered need a revision declares against a namespace.
type Requirement struct {
	namespace  string
	attributes map[string]any
	directives map[string]string
	filter     *filter.Filter
	revision   *Revision
	declared   *Requirement
	index      int
}

// Namespace returns the requirement namespace.
func (r *Requirement) Namespace() string { return r.namespace }

// Attributes returns the attribute map. Callers must not modify it.
func (r *Requirement) Attributes() map[string]any { return r.attributes }

// Directives returns the directive map. Callers must not modify it.
func (r *Requirement) Directives() map[string]string { return r.directives }

// Filter returns the parsed filter directive, or nil.
func (r *Requirement) Filter() *filter.Filter { return r.filter }

// Revision returns the revision the requirement is resolved for.
func (r *Requirement) Revision() *Revision { return r.revision }

// Declared returns the requirement as declared by its original revision.
func (r *Requirement) Declared() *Requirement {
	if r.declared != nil {
		return r.declared
	}
	return r
}

// IsHosted reports whether the requirement is a copy of another declaration:
// a fragment requirement resolved for a host, or a package looked up through
// a dynamic import.
func (r *Requirement) IsHosted() bool { return r.declared != nil }

// Resolution returns the resolution directive, defaulting to mandatory.
func (r *Requirement) Resolution() string {
	if res := r.directives[DirectiveResolution]; res != "" {
		return res
	}
	return ResolutionMandatory
}

// IsOptional reports whether resolution may succeed without this requirement.
func (r *Requirement) IsOptional() bool { return r.Resolution() == ResolutionOptional }

// IsDynamic reports whether the requirement is only resolved on demand.
func (r *Requirement) IsDynamic() bool { return r.Resolution() == ResolutionDynamic }

// IsEffective reports whether the requirement takes part in resolution.
func (r *Requirement) IsEffective() bool {
	e := r.directives[DirectiveEffective]
	return e == "" || e == EffectiveResolve
}

// Matches reports whether c satisfies the requirement: same namespace, the
// filter (if any) matches the capability attributes, and every attribute
// the capability declares mandatory is referenced by the filter.
func (r *Requirement) Matches(c *Capability) bool {
	if r.namespace != c.namespace {
		return false
	}
	if r.filter != nil && !r.filter.Matches(c.attributes) {
		return false
	}
	for _, attr := range c.MandatoryAttributes() {
		if r.filter == nil || !r.filter.References(attr) {
			return false
		}
	}
	return true
}

func (r *Requirement) String() string {
	if r.filter != nil {
		return fmt.Sprintf("%s%s", r.namespace, r.filter)
	}
	return r.namespace
}

// NewHostedRequirement returns the copy of a fragment requirement resolved on
// behalf of host.
func NewHostedRequirement(host *Revision, declared *Requirement) *Requirement {
	declared = declared.Declared()
	return &Requirement{
		namespace:  declared.namespace,
		attributes: declared.attributes,
		directives: declared.directives,
		filter:     declared.filter,
		revision:   host,
		declared:   declared,
		index:      declared.index,
	}
}

func formatAttributes(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, attrs[k])
	}
	return "[" + strings.Join(parts, ",") + "]"
}
