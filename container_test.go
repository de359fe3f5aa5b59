package modwire_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modwire"
	"github.com/GoCodeAlone/modwire/resolver"
)

func newTestContainer(t *testing.T, opts ...modwire.Option) *modwire.Container {
	t.Helper()
	c, err := modwire.NewContainer(resolver.New(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close(context.Background())
	})
	return c
}

func install(t *testing.T, c *modwire.Container, location string, b *modwire.RevisionBuilder) *modwire.Module {
	t.Helper()
	m, err := c.Install(nil, location, b)
	require.NoError(t, err)
	return m
}

func exporter(name, pkg string) *modwire.RevisionBuilder {
	return modwire.NewRevisionBuilder().SymbolicName(name).Version("1.0.0").ExportPackage(pkg, "1.0.0")
}

func importer(name, pkg string) *modwire.RevisionBuilder {
	return modwire.NewRevisionBuilder().SymbolicName(name).Version("1.0.0").ImportPackage(pkg, "")
}

// assertConsistent checks that every wire endpoint is resolved and that at
// most one revision per singleton name is resolved.
func assertConsistent(t *testing.T, c *modwire.Container) {
	t.Helper()
	wirings := c.Wirings()
	singletons := make(map[string]int)
	for rev, w := range wirings {
		if rev.IsSingleton() {
			singletons[rev.SymbolicName()]++
		}
		for _, wire := range w.RequiredWires("") {
			assert.NotNil(t, wirings[wire.Provider()], "provider %s of %s is not resolved", wire.Provider(), rev)
		}
		for _, wire := range w.ProvidedWires("") {
			assert.NotNil(t, wirings[wire.Requirer()], "requirer %s of %s is not resolved", wire.Requirer(), rev)
		}
	}
	for name, n := range singletons {
		assert.LessOrEqual(t, n, 1, "singleton %s resolved %d times", name, n)
	}
}

func TestResolveSimpleImport(t *testing.T) {
	c := newTestContainer(t)
	a := install(t, c, "mem://a", exporter("a", "p"))
	b := install(t, c, "mem://b", importer("b", "p"))

	require.NoError(t, c.Resolve([]*modwire.Module{b}, true))

	assert.Equal(t, modwire.StateResolved, a.State())
	assert.Equal(t, modwire.StateResolved, b.State())
	wires := c.Wiring(b.CurrentRevision()).RequiredWires(modwire.NamespacePackage)
	require.Len(t, wires, 1)
	assert.Same(t, a.CurrentRevision(), wires[0].Provider())
	assert.Equal(t, "p", wires[0].Capability().Name())

	provided := c.Wiring(a.CurrentRevision()).ProvidedWires(modwire.NamespacePackage)
	require.Len(t, provided, 1)
	assert.Same(t, wires[0], provided[0])
	assertConsistent(t, c)
}

func TestResolveIsIdempotent(t *testing.T) {
	c := newTestContainer(t)
	install(t, c, "mem://a", exporter("a", "p"))
	install(t, c, "mem://b", importer("b", "p"))

	require.NoError(t, c.Resolve(nil, false))
	ts := c.Timestamp()
	require.NoError(t, c.Resolve(nil, false))
	assert.Equal(t, ts, c.Timestamp())
}

func TestResolveMandatoryFailure(t *testing.T) {
	c := newTestContainer(t)
	b := install(t, c, "mem://b", importer("b", "missing"))

	err := c.Resolve([]*modwire.Module{b}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, modwire.ErrResolutionFailed))

	var resErr *modwire.ResolutionError
	require.True(t, errors.As(err, &resErr))
	require.Len(t, resErr.Unresolved, 1)
	assert.Same(t, b.CurrentRevision(), resErr.Unresolved[0])
	assert.Equal(t, modwire.StateInstalled, b.State())

	assert.NoError(t, c.Resolve([]*modwire.Module{b}, false))
	assert.Equal(t, modwire.StateInstalled, b.State())
}

func TestResolveOptionalImport(t *testing.T) {
	c := newTestContainer(t)
	b := install(t, c, "mem://b", modwire.NewRevisionBuilder().SymbolicName("b").ImportPackageOptional("missing", ""))

	require.NoError(t, c.Resolve([]*modwire.Module{b}, true))
	w := c.Wiring(b.CurrentRevision())
	require.NotNil(t, w)
	assert.Empty(t, w.RequiredWires(modwire.NamespacePackage))
	assert.Empty(t, w.Requirements(modwire.NamespacePackage))
}

func TestResolveVersionRange(t *testing.T) {
	c := newTestContainer(t)
	install(t, c, "mem://old", modwire.NewRevisionBuilder().SymbolicName("old").ExportPackage("p", "1.5.0"))
	newer := install(t, c, "mem://new", modwire.NewRevisionBuilder().SymbolicName("new").ExportPackage("p", "2.1.0"))
	b := install(t, c, "mem://b", modwire.NewRevisionBuilder().SymbolicName("b").ImportPackage("p", "[2.0,3.0)"))

	require.NoError(t, c.Resolve([]*modwire.Module{b}, true))
	wires := c.Wiring(b.CurrentRevision()).RequiredWires(modwire.NamespacePackage)
	require.Len(t, wires, 1)
	assert.Same(t, newer.CurrentRevision(), wires[0].Provider())
}

func TestResolveMandatoryAttribute(t *testing.T) {
	c := newTestContainer(t)
	install(t, c, "mem://a", modwire.NewRevisionBuilder().SymbolicName("a").
		ExportPackageWith("p", "1.0.0", map[string]any{"vendor": "acme"}, []string{"vendor"}))
	plain := install(t, c, "mem://plain", importer("plain", "p"))
	picky := install(t, c, "mem://picky", modwire.NewRevisionBuilder().SymbolicName("picky").
		AddRequirement(modwire.NamespacePackage, nil, map[string]string{
			modwire.DirectiveFilter: "(&(package=p)(vendor=acme))",
		}))

	require.NoError(t, c.Resolve(nil, false))
	assert.Equal(t, modwire.StateInstalled, plain.State())
	assert.Equal(t, modwire.StateResolved, picky.State())
}

func TestSingletonHighestVersionWins(t *testing.T) {
	c := newTestContainer(t)
	x1 := install(t, c, "mem://x1", modwire.NewRevisionBuilder().SymbolicName("x").Version("1.0.0").Singleton())
	x2 := install(t, c, "mem://x2", modwire.NewRevisionBuilder().SymbolicName("x").Version("2.0.0").Singleton())

	require.NoError(t, c.Resolve([]*modwire.Module{x1, x2}, false))
	assert.Equal(t, modwire.StateResolved, x2.State())
	assert.Equal(t, modwire.StateInstalled, x1.State())

	err := c.Resolve([]*modwire.Module{x1}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, modwire.ErrSingletonCollision))
	assertConsistent(t, c)
}

func TestSingletonTieBreak(t *testing.T) {
	allowDuplicates := modwire.WithCollisionHook(modwire.CollisionHookFunc(
		func(modwire.CollisionOperation, *modwire.Module, []*modwire.Module) []*modwire.Module { return nil },
	))

	tests := []struct {
		name     string
		tieBreak string
		winner   int
	}{
		{name: "first declared", tieBreak: modwire.TieBreakFirstDeclared, winner: 0},
		{name: "last declared", tieBreak: modwire.TieBreakLastDeclared, winner: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := modwire.DefaultConfig()
			cfg.SingletonTieBreak = tt.tieBreak
			c := newTestContainer(t, modwire.WithConfig(cfg), allowDuplicates)
			mods := []*modwire.Module{
				install(t, c, "mem://x-a", modwire.NewRevisionBuilder().SymbolicName("x").Version("1.0.0").Singleton()),
				install(t, c, "mem://x-b", modwire.NewRevisionBuilder().SymbolicName("x").Version("1.0.0").Singleton()),
			}

			require.NoError(t, c.Resolve(mods, false))
			for i, m := range mods {
				if i == tt.winner {
					assert.Equal(t, modwire.StateResolved, m.State(), m.Location())
				} else {
					assert.Equal(t, modwire.StateInstalled, m.State(), m.Location())
				}
			}
		})
	}
}

func TestInstallDuplicate(t *testing.T) {
	c := newTestContainer(t)
	a := install(t, c, "mem://a", exporter("a", "p"))

	again, err := c.Install(nil, "mem://a", exporter("other", "q"))
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = c.Install(nil, "mem://a2", exporter("a", "p"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, modwire.ErrDuplicateModule))
	assert.True(t, modwire.IsInvalid(err))
}

func TestFragmentCapabilitiesMergeIntoHost(t *testing.T) {
	c := newTestContainer(t)
	h := install(t, c, "mem://h", modwire.NewRevisionBuilder().SymbolicName("h").Version("1.0.0").
		ExportPackage("h.api", "1.0.0").
		ExportPackage("h.util", "1.0.0"))
	f := install(t, c, "mem://f", modwire.NewRevisionBuilder().SymbolicName("f").
		FragmentHost("h", "").
		ExportPackage("f.ext", "1.0.0"))

	require.NoError(t, c.Resolve([]*modwire.Module{h}, false))
	assert.Equal(t, modwire.StateResolved, h.State())
	assert.Equal(t, modwire.StateResolved, f.State())

	var names []string
	for _, capability := range c.Wiring(h.CurrentRevision()).Capabilities(modwire.NamespacePackage) {
		names = append(names, capability.Name())
		assert.Same(t, h.CurrentRevision(), capability.Revision())
	}
	assert.Equal(t, []string{"h.api", "h.util", "f.ext"}, names)

	hostWires := c.Wiring(f.CurrentRevision()).RequiredWires(modwire.NamespaceHost)
	require.Len(t, hostWires, 1)
	assert.Same(t, h.CurrentRevision(), hostWires[0].Provider())

	err := c.Start(context.Background(), f)
	assert.True(t, errors.Is(err, modwire.ErrFragmentLifecycle))
}

func TestFragmentExportWiredThroughHost(t *testing.T) {
	c := newTestContainer(t)
	h := install(t, c, "mem://h", modwire.NewRevisionBuilder().SymbolicName("h"))
	install(t, c, "mem://f", modwire.NewRevisionBuilder().SymbolicName("f").
		FragmentHost("h", "").
		ExportPackage("f.ext", "1.0.0"))
	b := install(t, c, "mem://b", importer("b", "f.ext"))

	require.NoError(t, c.Resolve([]*modwire.Module{b}, true))
	wires := c.Wiring(b.CurrentRevision()).RequiredWires(modwire.NamespacePackage)
	require.Len(t, wires, 1)
	assert.Same(t, h.CurrentRevision(), wires[0].Provider())
}

func TestResolveDynamic(t *testing.T) {
	c := newTestContainer(t)
	h := install(t, c, "mem://h", modwire.NewRevisionBuilder().SymbolicName("h").DynamicImport("q.*", ""))
	require.NoError(t, c.Resolve([]*modwire.Module{h}, true))

	rev := h.CurrentRevision()
	before := len(c.Wiring(rev).RequiredWires(""))

	wire, err := c.ResolveDynamic(rev, "q.impl")
	require.NoError(t, err)
	assert.Nil(t, wire, "no provider installed yet")

	q := install(t, c, "mem://q", exporter("q", "q.impl"))
	wire, err = c.ResolveDynamic(rev, "q.impl")
	require.NoError(t, err)
	require.NotNil(t, wire)
	assert.Same(t, q.CurrentRevision(), wire.Provider())
	assert.Equal(t, modwire.StateResolved, q.State())
	assert.Len(t, c.Wiring(rev).RequiredWires(""), before+1)

	again, err := c.ResolveDynamic(rev, "q.impl")
	require.NoError(t, err)
	assert.Same(t, wire, again)
	assert.Len(t, c.Wiring(rev).RequiredWires(""), before+1)

	none, err := c.ResolveDynamic(rev, "other")
	require.NoError(t, err)
	assert.Nil(t, none)
	assertConsistent(t, c)
}

func TestConcurrentResolve(t *testing.T) {
	c := newTestContainer(t)
	var mods []*modwire.Module
	for i := 0; i < 10; i++ {
		mods = append(mods, install(t, c, fmt.Sprintf("mem://api%d", i), exporter(fmt.Sprintf("api%d", i), fmt.Sprintf("p%d", i))))
	}
	for i := 0; i < 20; i++ {
		b := modwire.NewRevisionBuilder().SymbolicName(fmt.Sprintf("user%d", i)).
			ImportPackage(fmt.Sprintf("p%d", i%10), "").
			ImportPackage(fmt.Sprintf("p%d", (i+3)%10), "")
		mods = append(mods, install(t, c, fmt.Sprintf("mem://user%d", i), b))
	}
	for i := 0; i < 3; i++ {
		mods = append(mods, install(t, c, fmt.Sprintf("mem://single%d", i),
			modwire.NewRevisionBuilder().SymbolicName("single").Version(fmt.Sprintf("1.%d.0", i)).Singleton()))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			var triggers []*modwire.Module
			for i := g; i < len(mods); i += 3 {
				triggers = append(triggers, mods[i])
			}
			errs <- c.Resolve(triggers, false)
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	require.NoError(t, c.Resolve(nil, false))

	for _, m := range mods {
		if m.SymbolicName() == "single" {
			continue
		}
		assert.Equal(t, modwire.StateResolved, m.State(), m.String())
	}
	assertConsistent(t, c)
}

type countingActivator struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (a *countingActivator) Start(context.Context) error {
	a.starts.Add(1)
	return nil
}

func (a *countingActivator) Stop(context.Context) error {
	a.stops.Add(1)
	return nil
}

func TestRefreshRestartsDependents(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)

	activators := make([]*countingActivator, 4)
	for i := range activators {
		activators[i] = &countingActivator{}
	}
	a := install(t, c, "mem://a", exporter("a", "p").Activator(activators[0]))
	b := install(t, c, "mem://b", importer("b", "p").ExportPackage("pb", "1.0.0").Activator(activators[1]))
	cm := install(t, c, "mem://c", importer("c", "pb").ExportPackage("pc", "1.0.0").Activator(activators[2]))
	d := install(t, c, "mem://d", importer("d", "pc").Activator(activators[3]))
	mods := []*modwire.Module{a, b, cm, d}
	for _, m := range mods {
		require.NoError(t, c.Start(ctx, m))
	}

	assert.Equal(t, mods, c.DependencyClosure(a))

	require.NoError(t, c.Refresh(ctx, a))
	for i, m := range mods {
		assert.Equal(t, modwire.StateActive, m.State(), m.String())
		assert.EqualValues(t, 2, activators[i].starts.Load(), m.String())
		assert.EqualValues(t, 1, activators[i].stops.Load(), m.String())
	}
	assertConsistent(t, c)
}

func TestRefreshPreservesWiring(t *testing.T) {
	c := newTestContainer(t)
	a := install(t, c, "mem://a", exporter("a", "p"))
	b := install(t, c, "mem://b", importer("b", "p").RequireModule("a", ""))
	require.NoError(t, c.Resolve(nil, false))

	selection := func() []string {
		var out []string
		for _, wire := range c.Wiring(b.CurrentRevision()).RequiredWires("") {
			out = append(out, wire.Capability().Namespace()+"->"+wire.Provider().SymbolicName())
		}
		return out
	}
	before := selection()
	ts := c.Timestamp()

	require.NoError(t, c.Refresh(context.Background(), a))
	assert.Equal(t, before, selection())
	assert.Greater(t, c.Timestamp(), ts)
}

func TestUpdateLeavesRemovalPending(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)
	a := install(t, c, "mem://a", exporter("a", "p"))
	b := install(t, c, "mem://b", importer("b", "p"))
	require.NoError(t, c.Resolve(nil, false))
	old := a.CurrentRevision()

	require.NoError(t, c.Update(ctx, a, modwire.NewRevisionBuilder().SymbolicName("a").Version("2.0.0").ExportPackage("p", "2.0.0")))
	assert.NotSame(t, old, a.CurrentRevision())
	assert.Equal(t, []*modwire.Revision{old}, c.RemovalPending())
	assert.Same(t, old, c.Wiring(b.CurrentRevision()).RequiredWires("")[0].Provider())
	assert.Len(t, a.Revisions(), 2)

	require.NoError(t, c.Refresh(ctx))
	assert.Empty(t, c.RemovalPending())
	assert.Len(t, a.Revisions(), 1)
	assert.Nil(t, c.Wiring(old))
	wires := c.Wiring(b.CurrentRevision()).RequiredWires("")
	require.Len(t, wires, 1)
	assert.Same(t, a.CurrentRevision(), wires[0].Provider())
	assertConsistent(t, c)
}

func TestUninstallLeavesRemovalPending(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)
	a := install(t, c, "mem://a", exporter("a", "p"))
	b := install(t, c, "mem://b", importer("b", "p"))
	require.NoError(t, c.Resolve(nil, false))
	old := a.CurrentRevision()

	require.NoError(t, c.Uninstall(ctx, a))
	assert.Equal(t, modwire.StateUninstalled, a.State())
	_, ok := c.ModuleByLocation("mem://a")
	assert.False(t, ok)
	assert.Equal(t, []*modwire.Revision{old}, c.RemovalPending())
	assert.Equal(t, modwire.StateResolved, b.State())
	assert.Equal(t, []*modwire.Module{a, b}, c.DependencyClosure())

	require.NoError(t, c.Refresh(ctx))
	assert.Empty(t, c.RemovalPending())
	assert.Nil(t, c.Wiring(old))
	assert.Equal(t, modwire.StateInstalled, b.State())
	assertConsistent(t, c)
}

func TestUninstallUnwiredModule(t *testing.T) {
	c := newTestContainer(t)
	a := install(t, c, "mem://a", exporter("a", "p"))
	require.NoError(t, c.Resolve(nil, false))
	rev := a.CurrentRevision()

	require.NoError(t, c.Uninstall(context.Background(), a))
	assert.Empty(t, c.RemovalPending())
	assert.Nil(t, c.Wiring(rev))
}

func TestSystemModule(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)
	sys := c.SystemModule()

	assert.EqualValues(t, 0, sys.ID())
	assert.Equal(t, modwire.StateActive, sys.State())
	assert.Equal(t, "modwire.system", sys.SymbolicName())
	assert.NotNil(t, c.Wiring(sys.CurrentRevision()))

	assert.True(t, errors.Is(c.Stop(ctx, sys), modwire.ErrSystemModule))
	assert.True(t, errors.Is(c.Uninstall(ctx, sys), modwire.ErrSystemModule))
	assert.True(t, errors.Is(c.Update(ctx, sys, modwire.NewRevisionBuilder().SymbolicName("x")), modwire.ErrSystemModule))
}

func TestStartActivatorFailure(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)
	boom := errors.New("boom")
	m := install(t, c, "mem://a", exporter("a", "p").Activator(modwire.ActivatorFuncs{
		OnStart: func(context.Context) error { return boom },
	}))

	err := c.Start(ctx, m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, modwire.ErrActivatorFailed))
	assert.True(t, errors.Is(err, boom))
	assert.True(t, modwire.IsTransient(err))
	assert.Equal(t, modwire.StateResolved, m.State())
	assert.True(t, m.IsPersistentlyStarted())
}

func TestStartUnresolvable(t *testing.T) {
	c := newTestContainer(t)
	m := install(t, c, "mem://b", importer("b", "missing"))

	err := c.Start(context.Background(), m)
	assert.True(t, errors.Is(err, modwire.ErrResolutionFailed))
	assert.Equal(t, modwire.StateInstalled, m.State())
}

func TestStartLevels(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)
	act := &countingActivator{}
	m := install(t, c, "mem://late", exporter("late", "p").StartLevel(3).Activator(act))

	assert.Equal(t, 1, c.StartLevel())
	assert.Equal(t, 3, m.StartLevel())
	require.NoError(t, c.Start(ctx, m))
	assert.True(t, m.IsPersistentlyStarted())
	assert.Equal(t, modwire.StateInstalled, m.State())

	done, err := c.SetStartLevel(3)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, 3, c.StartLevel())
	assert.Equal(t, modwire.StateActive, m.State())

	done, err = c.SetStartLevel(2)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, modwire.StateResolved, m.State())
	assert.True(t, m.IsPersistentlyStarted())
	assert.EqualValues(t, 1, act.stops.Load())

	done, err = c.SetModuleStartLevel(m, 2)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, modwire.StateActive, m.State())
}

func TestClosedContainer(t *testing.T) {
	c, err := modwire.NewContainer(resolver.New())
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background()))

	_, err = c.Install(nil, "mem://a", exporter("a", "p"))
	assert.True(t, errors.Is(err, modwire.ErrContainerClosed))
	assert.True(t, errors.Is(c.Resolve(nil, false), modwire.ErrContainerClosed))
	_, err = c.RefreshAsync()
	assert.True(t, errors.Is(err, modwire.ErrContainerClosed))
}

func TestUnknownModule(t *testing.T) {
	c := newTestContainer(t)
	other := newTestContainer(t)
	m := install(t, other, "mem://a", exporter("a", "p"))

	assert.True(t, errors.Is(c.Start(context.Background(), m), modwire.ErrUnknownModule))
	assert.True(t, errors.Is(c.Resolve([]*modwire.Module{m}, true), modwire.ErrUnknownModule))
}

func TestResolveAllWithMandatoryFlag(t *testing.T) {
	c := newTestContainer(t)
	a := install(t, c, "mem://a", exporter("a", "p"))
	b := install(t, c, "mem://b", importer("b", "p"))
	broken := install(t, c, "mem://broken", importer("broken", "missing"))

	require.NoError(t, c.Resolve(nil, true))
	assert.Equal(t, modwire.StateResolved, a.State())
	assert.Equal(t, modwire.StateResolved, b.State())
	assert.Equal(t, modwire.StateInstalled, broken.State())
	assertConsistent(t, c)
}
