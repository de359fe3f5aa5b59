package modwire_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modwire"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []cloudevents.Event
}

func (r *eventRecorder) observer(id string) modwire.Observer {
	return modwire.NewFunctionalObserver(id, func(_ context.Context, event cloudevents.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, event)
		return nil
	})
}

// typesFor returns the event types recorded for module id, in order.
func (r *eventRecorder) typesFor(t *testing.T, id uint64) []string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, event := range r.events {
		var data modwire.ModuleEventData
		if err := event.DataAs(&data); err != nil {
			continue
		}
		if data.ModuleID == id && data.Location != "" {
			out = append(out, event.Type())
		}
	}
	return out
}

// moduleCount counts events of eventType about modules other than the
// system module.
func (r *eventRecorder) moduleCount(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		var data modwire.ModuleEventData
		if event.Type() != eventType || event.DataAs(&data) != nil {
			continue
		}
		if data.ModuleID != 0 {
			n++
		}
	}
	return n
}

func (r *eventRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Type() == eventType {
			n++
		}
	}
	return n
}

func TestModuleEventOrder(t *testing.T) {
	ctx := context.Background()
	rec := &eventRecorder{}
	c := newTestContainer(t, modwire.WithObserver(rec.observer("recorder")))
	install(t, c, "mem://a", exporter("a", "p"))
	b := install(t, c, "mem://b", importer("b", "p"))

	require.NoError(t, c.Start(ctx, b))
	require.NoError(t, c.Stop(ctx, b))
	require.NoError(t, c.Uninstall(ctx, b))
	require.NoError(t, c.FlushEvents(ctx))

	assert.Equal(t, []string{
		string(modwire.EventModuleInstalled),
		string(modwire.EventModuleResolved),
		string(modwire.EventModuleStarting),
		string(modwire.EventModuleStarted),
		string(modwire.EventModuleStopping),
		string(modwire.EventModuleStopped),
		string(modwire.EventModuleUnresolved),
		string(modwire.EventModuleUninstalled),
	}, rec.typesFor(t, b.ID()))
}

func TestObserverEventTypeFilter(t *testing.T) {
	ctx := context.Background()
	rec := &eventRecorder{}
	c := newTestContainer(t, modwire.WithObserver(rec.observer("resolved-only"), string(modwire.EventModuleResolved)))
	install(t, c, "mem://a", exporter("a", "p"))
	install(t, c, "mem://b", importer("b", "p"))

	require.NoError(t, c.Resolve(nil, false))
	require.NoError(t, c.FlushEvents(ctx))

	assert.Equal(t, 2, rec.moduleCount(string(modwire.EventModuleResolved)))
	assert.Zero(t, rec.count(string(modwire.EventModuleInstalled)))
}

func TestRefreshEmitsContainerEvent(t *testing.T) {
	ctx := context.Background()
	rec := &eventRecorder{}
	c := newTestContainer(t, modwire.WithObserver(rec.observer("recorder")))
	a := install(t, c, "mem://a", exporter("a", "p"))
	b := install(t, c, "mem://b", importer("b", "p"))
	require.NoError(t, c.Resolve(nil, false))

	require.NoError(t, c.Refresh(ctx, a))
	require.NoError(t, c.FlushEvents(ctx))

	assert.Equal(t, 1, rec.count(modwire.EventTypeRefreshed))
	assert.Equal(t, 2, rec.count(string(modwire.EventModuleUnresolved)))
	types := rec.typesFor(t, b.ID())
	require.GreaterOrEqual(t, len(types), 2)
	assert.Equal(t, []string{string(modwire.EventModuleUnresolved), string(modwire.EventModuleResolved)}, types[len(types)-2:])
}

// recordingHook disables revisions by symbolic name and counts Begin/End.
type recordingHook struct {
	modwire.NopResolverHook
	mu       sync.Mutex
	disabled map[string]bool
	hidden   map[string]bool
	begins   int
	ends     int
}

func (h *recordingHook) Begin([]*modwire.Revision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.begins++
}

func (h *recordingHook) End() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends++
}

func (h *recordingHook) FilterResolvable(candidates []*modwire.Revision) []*modwire.Revision {
	var out []*modwire.Revision
	for _, rev := range candidates {
		if !h.disabled[rev.SymbolicName()] {
			out = append(out, rev)
		}
	}
	return out
}

func (h *recordingHook) FilterMatches(_ *modwire.Requirement, candidates []*modwire.Capability) []*modwire.Capability {
	var out []*modwire.Capability
	for _, c := range candidates {
		if !h.hidden[c.Revision().SymbolicName()] {
			out = append(out, c)
		}
	}
	return out
}

func TestResolverHookDisablesTrigger(t *testing.T) {
	hook := &recordingHook{disabled: map[string]bool{"bad": true}}
	c := newTestContainer(t, modwire.WithResolverHook(hook))
	bad := install(t, c, "mem://bad", exporter("bad", "p"))

	err := c.Resolve([]*modwire.Module{bad}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, modwire.ErrDisabledTrigger))
	assert.Equal(t, modwire.StateInstalled, bad.State())

	hook.mu.Lock()
	defer hook.mu.Unlock()
	assert.Positive(t, hook.begins)
	assert.Equal(t, hook.begins, hook.ends)
}

func TestResolverHookFiltersMatches(t *testing.T) {
	hook := &recordingHook{hidden: map[string]bool{"first": true}}
	c := newTestContainer(t, modwire.WithResolverHook(hook))
	install(t, c, "mem://first", exporter("first", "p"))
	second := install(t, c, "mem://second", exporter("second", "p"))
	b := install(t, c, "mem://b", importer("b", "p"))

	require.NoError(t, c.Resolve([]*modwire.Module{b}, true))
	wires := c.Wiring(b.CurrentRevision()).RequiredWires(modwire.NamespacePackage)
	require.Len(t, wires, 1)
	assert.Same(t, second.CurrentRevision(), wires[0].Provider())
}

func TestResolverHookFactoryPerAttempt(t *testing.T) {
	var mu sync.Mutex
	var hooks []*recordingHook
	factory := func() modwire.ResolverHook {
		mu.Lock()
		defer mu.Unlock()
		h := &recordingHook{}
		hooks = append(hooks, h)
		return h
	}
	c := newTestContainer(t, modwire.WithResolverHookFactory(factory))
	install(t, c, "mem://a", exporter("a", "p"))
	require.NoError(t, c.Resolve(nil, false))
	install(t, c, "mem://b", importer("b", "p"))
	require.NoError(t, c.Resolve(nil, false))

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(hooks), 2)
	for _, h := range hooks {
		assert.Equal(t, 1, h.begins)
		assert.Equal(t, 1, h.ends)
	}
}

func TestContainerMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	c := newTestContainer(t, modwire.WithMetrics(reg))
	a := install(t, c, "mem://a", exporter("a", "p"))
	install(t, c, "mem://b", importer("b", "p"))
	broken := install(t, c, "mem://broken", importer("broken", "missing"))

	require.NoError(t, c.Resolve(nil, false))
	assert.Error(t, c.Resolve([]*modwire.Module{broken}, true))
	require.NoError(t, c.Update(ctx, a, modwire.NewRevisionBuilder().SymbolicName("a").Version("2.0.0").ExportPackage("p", "2.0.0")))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().ResolveFailures()))
	assert.GreaterOrEqual(t, testutil.ToFloat64(c.Metrics().ResolveAttempts()), 2.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().RemovalPending()))

	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().Refreshes()))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Metrics().RemovalPending()))

	count, err := testutil.GatherAndCount(reg, "modwire_modules")
	require.NoError(t, err)
	assert.Equal(t, len(modwire.AllModuleStates), count)
}
