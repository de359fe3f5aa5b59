package modwire

import (
	"fmt"
	"strings"

	"github.com/GoCodeAlone/modwire/filter"
	"github.com/GoCodeAlone/modwire/version"
)

// Revision is an immutable snapshot of one version of a module's declared
// capabilities and requirements.
type Revision struct {
	module       *Module
	symbolicName string
	version      version.Version
	fragment     bool
	singleton    bool
	lazy         bool
	startLevel   int
	activator    Activator
	capabilities []*Capability
	requirements []*Requirement
	seq          uint64
}

// Module returns the module that owns the revision.
func (r *Revision) Module() *Module { return r.module }

// SymbolicName returns the declared symbolic name.
func (r *Revision) SymbolicName() string { return r.symbolicName }

// Version returns the declared version.
func (r *Revision) Version() version.Version { return r.version }

// IsFragment reports whether the revision attaches to a host instead of
// resolving on its own.
func (r *Revision) IsFragment() bool { return r.fragment }

// IsSingleton reports whether at most one revision with this symbolic name
// may be resolved at a time.
func (r *Revision) IsSingleton() bool { return r.singleton }

// IsLazy reports whether the module prefers to be started after eager
// modules of the same start level.
func (r *Revision) IsLazy() bool { return r.lazy }

// Capabilities returns the declared capabilities in the given namespace, or
// all of them when namespace is empty.
func (r *Revision) Capabilities(namespace string) []*Capability {
	if namespace == "" {
		return append([]*Capability(nil), r.capabilities...)
	}
	var out []*Capability
	for _, c := range r.capabilities {
		if c.namespace == namespace {
			out = append(out, c)
		}
	}
	return out
}

// Requirements returns the declared requirements in the given namespace, or
// all of them when namespace is empty.
func (r *Revision) Requirements(namespace string) []*Requirement {
	if namespace == "" {
		return append([]*Requirement(nil), r.requirements...)
	}
	var out []*Requirement
	for _, req := range r.requirements {
		if req.namespace == namespace {
			out = append(out, req)
		}
	}
	return out
}

// Identity returns the identity capability.
func (r *Revision) Identity() *Capability {
	for _, c := range r.capabilities {
		if c.namespace == NamespaceIdentity {
			return c
		}
	}
	return nil
}

// Seq returns the container-wide creation sequence number. Later revisions
// have larger numbers.
func (r *Revision) Seq() uint64 { return r.seq }

func (r *Revision) String() string {
	id := "?"
	if r.module != nil {
		id = fmt.Sprint(r.module.id)
	}
	return fmt.Sprintf("%s_%s[%s]", r.symbolicName, r.version, id)
}

// revisionLess orders revisions by module id, then by creation.
func revisionLess(a, b *Revision) bool {
	var ai, bi uint64
	if a.module != nil {
		ai = a.module.id
	}
	if b.module != nil {
		bi = b.module.id
	}
	if ai != bi {
		return ai < bi
	}
	return a.seq < b.seq
}

type capabilitySpec struct {
	namespace  string
	attributes map[string]any
	directives map[string]string
}

// RevisionBuilder collects the declarations of a revision. It is the only
// way to create revisions: Install and Update consume a builder.
type RevisionBuilder struct {
	symbolicName string
	version      version.Version
	singleton    bool
	fragment     bool
	hostName     string
	hostRange    string
	lazy         bool
	startLevel   int
	activator    Activator
	capabilities []capabilitySpec
	requirements []capabilitySpec
	err          error
}

// NewRevisionBuilder creates an empty builder.
func NewRevisionBuilder() *RevisionBuilder {
	return &RevisionBuilder{}
}

func (b *RevisionBuilder) fail(err error) *RevisionBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// SymbolicName sets the symbolic name.
func (b *RevisionBuilder) SymbolicName(name string) *RevisionBuilder {
	b.symbolicName = strings.TrimSpace(name)
	return b
}

// Version sets the version from its string form.
func (b *RevisionBuilder) Version(v string) *RevisionBuilder {
	parsed, err := version.Parse(v)
	if err != nil {
		return b.fail(err)
	}
	b.version = parsed
	return b
}

// Singleton marks the revision as a singleton.
func (b *RevisionBuilder) Singleton() *RevisionBuilder {
	b.singleton = true
	return b
}

// FragmentHost makes the revision a fragment attaching to hosts with the
// given symbolic name and version range.
func (b *RevisionBuilder) FragmentHost(name, versionRange string) *RevisionBuilder {
	if _, err := version.ParseRange(versionRange); err != nil {
		return b.fail(err)
	}
	b.fragment = true
	b.hostName = name
	b.hostRange = versionRange
	return b
}

// Lazy marks the module as lazily activated.
func (b *RevisionBuilder) Lazy() *RevisionBuilder {
	b.lazy = true
	return b
}

// StartLevel sets the initial start level of a newly installed module. Zero
// means the container default.
func (b *RevisionBuilder) StartLevel(level int) *RevisionBuilder {
	b.startLevel = level
	return b
}

// Activator sets the hook run when the module starts and stops.
func (b *RevisionBuilder) Activator(a Activator) *RevisionBuilder {
	b.activator = a
	return b
}

// AddCapability declares a capability.
func (b *RevisionBuilder) AddCapability(namespace string, attributes map[string]any, directives map[string]string) *RevisionBuilder {
	b.capabilities = append(b.capabilities, capabilitySpec{
		namespace:  namespace,
		attributes: copyAttributes(attributes),
		directives: copyDirectives(directives),
	})
	return b
}

// AddRequirement declares a requirement. The filter is taken from the
// "filter" directive.
func (b *RevisionBuilder) AddRequirement(namespace string, attributes map[string]any, directives map[string]string) *RevisionBuilder {
	b.requirements = append(b.requirements, capabilitySpec{
		namespace:  namespace,
		attributes: copyAttributes(attributes),
		directives: copyDirectives(directives),
	})
	return b
}

// ExportPackage declares a package capability.
func (b *RevisionBuilder) ExportPackage(name, v string) *RevisionBuilder {
	parsed, err := version.Parse(v)
	if err != nil {
		return b.fail(err)
	}
	return b.AddCapability(NamespacePackage, map[string]any{
		NamespacePackage: name,
		AttributeVersion: parsed,
	}, nil)
}

// ExportPackageWith declares a package capability carrying extra matching
// attributes. Attributes listed in mandatory must be referenced by an
// importer's filter.
func (b *RevisionBuilder) ExportPackageWith(name, v string, attributes map[string]any, mandatory []string) *RevisionBuilder {
	parsed, err := version.Parse(v)
	if err != nil {
		return b.fail(err)
	}
	attrs := copyAttributes(attributes)
	if attrs == nil {
		attrs = make(map[string]any, 2)
	}
	attrs[NamespacePackage] = name
	attrs[AttributeVersion] = parsed
	var directives map[string]string
	if len(mandatory) > 0 {
		directives = map[string]string{DirectiveMandatory: strings.Join(mandatory, ",")}
	}
	return b.AddCapability(NamespacePackage, attrs, directives)
}

// ImportPackage declares a mandatory package requirement within a version
// range.
func (b *RevisionBuilder) ImportPackage(name, versionRange string) *RevisionBuilder {
	return b.importPackage(name, versionRange, ResolutionMandatory)
}

// ImportPackageOptional declares an optional package requirement.
func (b *RevisionBuilder) ImportPackageOptional(name, versionRange string) *RevisionBuilder {
	return b.importPackage(name, versionRange, ResolutionOptional)
}

func (b *RevisionBuilder) importPackage(name, versionRange, resolution string) *RevisionBuilder {
	f, err := rangeFilter(NamespacePackage, name, versionRange)
	if err != nil {
		return b.fail(err)
	}
	directives := map[string]string{DirectiveFilter: f}
	if resolution != ResolutionMandatory {
		directives[DirectiveResolution] = resolution
	}
	return b.AddRequirement(NamespacePackage, nil, directives)
}

// DynamicImport declares a package requirement resolved on demand. The
// pattern may end in "*" to match a package prefix.
func (b *RevisionBuilder) DynamicImport(pattern, versionRange string) *RevisionBuilder {
	if _, err := version.ParseRange(versionRange); err != nil {
		return b.fail(err)
	}
	return b.AddRequirement(NamespacePackage, map[string]any{
		NamespacePackage:    pattern,
		dynamicRangeAttribute: versionRange,
	}, map[string]string{
		DirectiveFilter:     fmt.Sprintf("(%s=%s)", NamespacePackage, pattern),
		DirectiveResolution: ResolutionDynamic,
	})
}

// RequireModule declares a dependency on the module capability of the named
// module.
func (b *RevisionBuilder) RequireModule(name, versionRange string) *RevisionBuilder {
	f, err := rangeFilter(NamespaceModule, name, versionRange)
	if err != nil {
		return b.fail(err)
	}
	return b.AddRequirement(NamespaceModule, nil, map[string]string{DirectiveFilter: f})
}

// RequireModuleOptional declares an optional module dependency.
func (b *RevisionBuilder) RequireModuleOptional(name, versionRange string) *RevisionBuilder {
	f, err := rangeFilter(NamespaceModule, name, versionRange)
	if err != nil {
		return b.fail(err)
	}
	return b.AddRequirement(NamespaceModule, nil, map[string]string{
		DirectiveFilter:     f,
		DirectiveResolution: ResolutionOptional,
	})
}

// dynamicRangeAttribute keeps the version range of a dynamic import so the
// concrete requirement can be derived for a looked-up package name.
const dynamicRangeAttribute = "version-range"

func rangeFilter(attr, name, versionRange string) (string, error) {
	r, err := version.ParseRange(versionRange)
	if err != nil {
		return "", err
	}
	nameFilter := fmt.Sprintf("(%s=%s)", attr, escapeFilterValue(name))
	if r == version.AnyVersion {
		return nameFilter, nil
	}
	return fmt.Sprintf("(&%s%s)", nameFilter, r.FilterString(AttributeVersion)), nil
}

func escapeFilterValue(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `(`, `\(`, `)`, `\)`)
	return replacer.Replace(s)
}

// build creates the revision. Generated identity, module and host
// capabilities come first, followed by the declared ones in order.
func (b *RevisionBuilder) build(seq uint64) (*Revision, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.symbolicName == "" {
		return nil, ErrMissingSymbolicName
	}

	rev := &Revision{
		symbolicName: b.symbolicName,
		version:      b.version,
		fragment:     b.fragment,
		singleton:    b.singleton,
		lazy:         b.lazy,
		startLevel:   b.startLevel,
		activator:    b.activator,
		seq:          seq,
	}

	identityType := IdentityTypeModule
	if b.fragment {
		identityType = IdentityTypeFragment
	}
	var identityDirectives map[string]string
	if b.singleton {
		identityDirectives = map[string]string{DirectiveSingleton: "true"}
	}
	rev.addCapability(NamespaceIdentity, map[string]any{
		NamespaceIdentity: b.symbolicName,
		AttributeVersion:  b.version,
		AttributeType:     identityType,
	}, identityDirectives)

	if b.fragment {
		f, err := rangeFilter(NamespaceHost, b.hostName, b.hostRange)
		if err != nil {
			return nil, err
		}
		if err := rev.addRequirement(NamespaceHost, nil, map[string]string{DirectiveFilter: f}); err != nil {
			return nil, err
		}
	} else {
		rev.addCapability(NamespaceModule, map[string]any{
			NamespaceModule:  b.symbolicName,
			AttributeVersion: b.version,
		}, nil)
		rev.addCapability(NamespaceHost, map[string]any{
			NamespaceHost:    b.symbolicName,
			AttributeVersion: b.version,
		}, nil)
	}

	for _, spec := range b.capabilities {
		rev.addCapability(spec.namespace, spec.attributes, spec.directives)
	}
	for _, spec := range b.requirements {
		if err := rev.addRequirement(spec.namespace, spec.attributes, spec.directives); err != nil {
			return nil, err
		}
	}
	return rev, nil
}

func (r *Revision) addCapability(namespace string, attributes map[string]any, directives map[string]string) {
	r.capabilities = append(r.capabilities, &Capability{
		namespace:  namespace,
		attributes: nonNilAttributes(attributes),
		directives: nonNilDirectives(directives),
		revision:   r,
		index:      len(r.capabilities),
	})
}

func (r *Revision) addRequirement(namespace string, attributes map[string]any, directives map[string]string) error {
	req := &Requirement{
		namespace:  namespace,
		attributes: nonNilAttributes(attributes),
		directives: nonNilDirectives(directives),
		revision:   r,
		index:      len(r.requirements),
	}
	if text := req.directives[DirectiveFilter]; text != "" {
		f, err := filter.Parse(text)
		if err != nil {
			return fmt.Errorf("%w: %s requirement of %s: %w", ErrInvalidFilter, namespace, r.symbolicName, err)
		}
		req.filter = f
	}
	r.requirements = append(r.requirements, req)
	return nil
}

func copyAttributes(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyDirectives(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func nonNilAttributes(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilDirectives(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
