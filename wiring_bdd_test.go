package modwire_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cucumber/godog"

	"github.com/GoCodeAlone/modwire"
	"github.com/GoCodeAlone/modwire/resolver"
)

// Static error variables for BDD tests to comply with err113 linting rule
var (
	errNoContainer          = errors.New("container was not created in background")
	errUnknownTestModule    = errors.New("module not installed in scenario")
	errExpectedFailure      = errors.New("expected resolution to fail")
	errNotSingletonFailure  = errors.New("expected a singleton collision")
	errUnexpectedWire       = errors.New("unexpected wire")
	errUnexpectedState      = errors.New("unexpected module state")
	errUnexpectedCount      = errors.New("unexpected count")
	errDanglingWire         = errors.New("wire references an unresolved revision")
	errUnexpectedCapability = errors.New("unexpected capability order")
)

// wiringBDDContext holds the state of one scenario.
type wiringBDDContext struct {
	container  *modwire.Container
	modules    map[string]*modwire.Module
	activators map[string]*countingActivator
	builders   map[string]*modwire.RevisionBuilder
	resolveErr error
}

func (w *wiringBDDContext) reset() {
	if w.container != nil {
		_ = w.container.Close(context.Background())
	}
	*w = wiringBDDContext{
		modules:    make(map[string]*modwire.Module),
		activators: make(map[string]*countingActivator),
		builders:   make(map[string]*modwire.RevisionBuilder),
	}
}

func (w *wiringBDDContext) iHaveANewContainer() error {
	c, err := modwire.NewContainer(resolver.New())
	if err != nil {
		return err
	}
	w.container = c
	return nil
}

func (w *wiringBDDContext) install(key string, b *modwire.RevisionBuilder) error {
	if w.container == nil {
		return errNoContainer
	}
	act := &countingActivator{}
	w.activators[key] = act
	m, err := w.container.Install(nil, "mem://"+key, b.Activator(act))
	if err != nil {
		return err
	}
	w.modules[key] = m
	return nil
}

func (w *wiringBDDContext) module(key string) (*modwire.Module, error) {
	m, ok := w.modules[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownTestModule, key)
	}
	return m, nil
}

func (w *wiringBDDContext) moduleExportsPackage(name, pkg string) error {
	return w.install(name, modwire.NewRevisionBuilder().SymbolicName(name).Version("1.0.0").ExportPackage(pkg, "1.0.0"))
}

func (w *wiringBDDContext) moduleImportsPackage(name, pkg string) error {
	return w.install(name, modwire.NewRevisionBuilder().SymbolicName(name).Version("1.0.0").ImportPackage(pkg, ""))
}

func (w *wiringBDDContext) moduleImportsAndExports(name, imported, exported string) error {
	return w.install(name, modwire.NewRevisionBuilder().SymbolicName(name).Version("1.0.0").
		ImportPackage(imported, "").
		ExportPackage(exported, "1.0.0"))
}

func (w *wiringBDDContext) singletonModule(name, version string) error {
	return w.install(name+"@"+version, modwire.NewRevisionBuilder().SymbolicName(name).Version(version).Singleton())
}

func (w *wiringBDDContext) fragmentExportsPackage(name, host, pkg string) error {
	return w.install(name, modwire.NewRevisionBuilder().SymbolicName(name).FragmentHost(host, "").ExportPackage(pkg, "1.0.0"))
}

func (w *wiringBDDContext) moduleDynamicallyImports(name, pattern string) error {
	return w.install(name, modwire.NewRevisionBuilder().SymbolicName(name).DynamicImport(pattern, ""))
}

func (w *wiringBDDContext) providersEachConsumedBy(providers, consumers int) error {
	for i := 0; i < providers; i++ {
		if err := w.moduleExportsPackage(fmt.Sprintf("provider%d", i), fmt.Sprintf("p%d", i)); err != nil {
			return err
		}
		for j := 0; j < consumers; j++ {
			if err := w.moduleImportsPackage(fmt.Sprintf("consumer%d-%d", i, j), fmt.Sprintf("p%d", i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *wiringBDDContext) resolve(key string, mandatory bool) error {
	m, err := w.module(key)
	if err != nil {
		return err
	}
	w.resolveErr = w.container.Resolve([]*modwire.Module{m}, mandatory)
	return nil
}

func (w *wiringBDDContext) iResolveMandatorily(key string) error { return w.resolve(key, true) }

func (w *wiringBDDContext) iResolve(key string) error { return w.resolve(key, false) }

func (w *wiringBDDContext) iResolveVersionMandatorily(name, version string) error {
	return w.resolve(name+"@"+version, true)
}

func (w *wiringBDDContext) iResolveEveryModule() error {
	w.resolveErr = w.container.Resolve(nil, false)
	return nil
}

func (w *wiringBDDContext) callersResolveConcurrently(callers int) error {
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = w.container.Resolve(nil, false)
		}(i)
	}
	wg.Wait()
	w.resolveErr = errors.Join(errs...)
	return w.resolveErr
}

func (w *wiringBDDContext) dynamicallyLoads(key, pkg string) error {
	m, err := w.module(key)
	if err != nil {
		return err
	}
	wire, err := w.container.ResolveDynamic(m.CurrentRevision(), pkg)
	if err != nil {
		return err
	}
	if wire == nil {
		return fmt.Errorf("%w: no wire for %s", errUnexpectedWire, pkg)
	}
	return nil
}

func (w *wiringBDDContext) everyModuleIsStarted() error {
	for _, m := range w.container.Modules() {
		if m.ID() == 0 {
			continue
		}
		if err := w.container.Start(context.Background(), m); err != nil {
			return err
		}
	}
	return nil
}

func (w *wiringBDDContext) iRefresh(key string) error {
	m, err := w.module(key)
	if err != nil {
		return err
	}
	return w.container.Refresh(context.Background(), m)
}

func (w *wiringBDDContext) theResolutionShouldSucceed() error {
	return w.resolveErr
}

func (w *wiringBDDContext) theResolutionShouldFailWithASingletonCollision() error {
	if w.resolveErr == nil {
		return errExpectedFailure
	}
	if !errors.Is(w.resolveErr, modwire.ErrSingletonCollision) {
		return fmt.Errorf("%w: got %v", errNotSingletonFailure, w.resolveErr)
	}
	return nil
}

func (w *wiringBDDContext) shouldBeWiredTo(requirer, provider, pkg string) error {
	r, err := w.module(requirer)
	if err != nil {
		return err
	}
	p, err := w.module(provider)
	if err != nil {
		return err
	}
	wiring := w.container.Wiring(r.CurrentRevision())
	if wiring == nil {
		return fmt.Errorf("%w: %s is not resolved", errUnexpectedState, requirer)
	}
	for _, wire := range wiring.RequiredWires(modwire.NamespacePackage) {
		if wire.Capability().Name() == pkg {
			if wire.Provider() != p.CurrentRevision() {
				return fmt.Errorf("%w: %s wired to %s", errUnexpectedWire, pkg, wire.Provider())
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no wire for %s", errUnexpectedWire, requirer, pkg)
}

func (w *wiringBDDContext) shouldHaveRequiredWires(key string, n int) error {
	m, err := w.module(key)
	if err != nil {
		return err
	}
	if got := len(w.container.Wiring(m.CurrentRevision()).RequiredWires("")); got != n {
		return fmt.Errorf("%w: %d required wires, want %d", errUnexpectedCount, got, n)
	}
	return nil
}

func checkState(m *modwire.Module, want string) error {
	if got := m.State().String(); got != want {
		return fmt.Errorf("%w: %s is %s, want %s", errUnexpectedState, m, got, want)
	}
	return nil
}

func (w *wiringBDDContext) moduleShouldBe(key, state string) error {
	m, err := w.module(key)
	if err != nil {
		return err
	}
	return checkState(m, state)
}

func (w *wiringBDDContext) moduleVersionShouldBe(name, version, state string) error {
	return w.moduleShouldBe(name+"@"+version, state)
}

func (w *wiringBDDContext) everyModuleShouldBe(state string) error {
	for _, m := range w.modules {
		if err := checkState(m, state); err != nil {
			return err
		}
	}
	return nil
}

func (w *wiringBDDContext) shouldOfferPackagesInOrder(key, list string) error {
	m, err := w.module(key)
	if err != nil {
		return err
	}
	var got []string
	for _, c := range w.container.Wiring(m.CurrentRevision()).Capabilities(modwire.NamespacePackage) {
		got = append(got, c.Name())
	}
	if want := splitList(list); strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("%w: got %v, want %v", errUnexpectedCapability, got, want)
	}
	return nil
}

func (w *wiringBDDContext) noWireShouldReferenceAnUnresolvedRevision() error {
	wirings := w.container.Wirings()
	for rev, wiring := range wirings {
		for _, wire := range wiring.RequiredWires("") {
			if wirings[wire.Provider()] == nil {
				return fmt.Errorf("%w: %s -> %s", errDanglingWire, rev, wire.Provider())
			}
		}
		for _, wire := range wiring.ProvidedWires("") {
			if wirings[wire.Requirer()] == nil {
				return fmt.Errorf("%w: %s <- %s", errDanglingWire, rev, wire.Requirer())
			}
		}
	}
	return nil
}

func (w *wiringBDDContext) modulesShouldHaveBeenStarted(list string, times int) error {
	for _, key := range splitList(list) {
		act, ok := w.activators[key]
		if !ok {
			return fmt.Errorf("%w: %s", errUnknownTestModule, key)
		}
		if got := int(act.starts.Load()); got != times {
			return fmt.Errorf("%w: %s started %d times, want %d", errUnexpectedCount, key, got, times)
		}
	}
	return nil
}

func splitList(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// InitializeWiringScenario registers the wiring steps.
func InitializeWiringScenario(ctx *godog.ScenarioContext) {
	w := &wiringBDDContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		w.reset()
		return ctx, nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		w.reset()
		return ctx, nil
	})

	ctx.Step(`^I have a new container$`, w.iHaveANewContainer)

	// Installation
	ctx.Step(`^module "([^"]*)" exports package "([^"]*)"$`, w.moduleExportsPackage)
	ctx.Step(`^module "([^"]*)" imports package "([^"]*)"$`, w.moduleImportsPackage)
	ctx.Step(`^module "([^"]*)" imports package "([^"]*)" and exports package "([^"]*)"$`, w.moduleImportsAndExports)
	ctx.Step(`^singleton module "([^"]*)" version "([^"]*)"$`, w.singletonModule)
	ctx.Step(`^fragment "([^"]*)" of host "([^"]*)" exports package "([^"]*)"$`, w.fragmentExportsPackage)
	ctx.Step(`^module "([^"]*)" dynamically imports "([^"]*)"$`, w.moduleDynamicallyImports)
	ctx.Step(`^(\d+) providers each consumed by (\d+) modules$`, w.providersEachConsumedBy)

	// Operations
	ctx.Step(`^I resolve "([^"]*)" mandatorily$`, w.iResolveMandatorily)
	ctx.Step(`^I resolve "([^"]*)"$`, w.iResolve)
	ctx.Step(`^I resolve "([^"]*)" version "([^"]*)" mandatorily$`, w.iResolveVersionMandatorily)
	ctx.Step(`^I resolve every module$`, w.iResolveEveryModule)
	ctx.Step(`^(\d+) callers resolve every module concurrently$`, w.callersResolveConcurrently)
	ctx.Step(`^"([^"]*)" dynamically loads package "([^"]*)"$`, w.dynamicallyLoads)
	ctx.Step(`^every module is started$`, w.everyModuleIsStarted)
	ctx.Step(`^I refresh "([^"]*)"$`, w.iRefresh)

	// Outcomes
	ctx.Step(`^the resolution should succeed$`, w.theResolutionShouldSucceed)
	ctx.Step(`^the resolution should fail with a singleton collision$`, w.theResolutionShouldFailWithASingletonCollision)
	ctx.Step(`^module "([^"]*)" should be wired to "([^"]*)" for package "([^"]*)"$`, w.shouldBeWiredTo)
	ctx.Step(`^module "([^"]*)" should have (\d+) required wires?$`, w.shouldHaveRequiredWires)
	ctx.Step(`^module "([^"]*)" should be (\w+)$`, w.moduleShouldBe)
	ctx.Step(`^module "([^"]*)" version "([^"]*)" should be (\w+)$`, w.moduleVersionShouldBe)
	ctx.Step(`^every module should be (\w+)$`, w.everyModuleShouldBe)
	ctx.Step(`^module "([^"]*)" should offer packages "([^"]*)" in order$`, w.shouldOfferPackagesInOrder)
	ctx.Step(`^no wire should reference an unresolved revision$`, w.noWireShouldReferenceAnUnresolvedRevision)
	ctx.Step(`^modules "([^"]*)" should each have been started (\d+) times$`, w.modulesShouldHaveBeenStarted)
}

// TestWiringFeatures runs the BDD tests for module wiring
func TestWiringFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeWiringScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/wiring.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
