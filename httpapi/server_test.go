package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modwire"
	"github.com/GoCodeAlone/modwire/httpapi"
	"github.com/GoCodeAlone/modwire/report"
	"github.com/GoCodeAlone/modwire/resolver"
)

type fixture struct {
	container *modwire.Container
	server    *httptest.Server
	api       *modwire.Module
	user      *modwire.Module
	broken    *modwire.Module
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := modwire.NewContainer(resolver.New(), modwire.WithMetrics(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	f := &fixture{container: c}
	f.api, err = c.Install(nil, "mem://api", modwire.NewRevisionBuilder().SymbolicName("api").Version("1.0.0").ExportPackage("p", "1.0.0"))
	require.NoError(t, err)
	f.user, err = c.Install(nil, "mem://user", modwire.NewRevisionBuilder().SymbolicName("user").ImportPackage("p", ""))
	require.NoError(t, err)
	f.broken, err = c.Install(nil, "mem://broken", modwire.NewRevisionBuilder().SymbolicName("broken").ImportPackage("missing", ""))
	require.NoError(t, err)

	f.server = httptest.NewServer(httpapi.New(c, httpapi.WithGatherer(reg)))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestListAndGetModules(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/modules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var mods []report.Module
	decode(t, resp, &mods)
	require.Len(t, mods, 4)
	assert.Equal(t, "modwire.system", mods[0].SymbolicName)
	assert.Equal(t, "INSTALLED", mods[1].State)

	resp = f.do(t, http.MethodGet, "/modules/2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m report.Module
	decode(t, resp, &m)
	assert.Equal(t, "mem://user", m.Location)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/modules/99", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/modules/abc", nil).StatusCode)
}

func TestResolveEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/resolve", map[string]any{"modules": []uint64{f.broken.ID()}, "mandatory": true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var errBody map[string]string
	decode(t, resp, &errBody)
	assert.Contains(t, errBody["error"], "resolution failed")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/resolve", map[string]any{"modules": []uint64{42}}).StatusCode)

	resp = f.do(t, http.MethodPost, "/resolve", map[string]any{"modules": []uint64{f.user.ID()}, "mandatory": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Timestamp uint64          `json:"timestamp"`
		Modules   []report.Module `json:"modules"`
	}
	decode(t, resp, &body)
	assert.Equal(t, f.container.Timestamp(), body.Timestamp)
	require.Len(t, body.Modules, 1)
	assert.Equal(t, "RESOLVED", body.Modules[0].State)

	resp = f.do(t, http.MethodGet, "/modules/2/wiring", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var wiring report.Wiring
	decode(t, resp, &wiring)
	require.Len(t, wiring.Required, 1)
	assert.Equal(t, "api_1.0.0[1]", wiring.Required[0].Provider)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/modules/3/wiring", nil).StatusCode)
}

func TestResolveEndpointMandatoryWithoutModules(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/resolve", map[string]any{"mandatory": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Modules []report.Module `json:"modules"`
	}
	decode(t, resp, &body)

	states := make(map[string]string, len(body.Modules))
	for _, m := range body.Modules {
		states[m.SymbolicName] = m.State
	}
	assert.Equal(t, "RESOLVED", states["api"])
	assert.Equal(t, "RESOLVED", states["user"])
	assert.Equal(t, "INSTALLED", states["broken"])
	assert.Equal(t, modwire.StateResolved, f.user.State())
}

func TestResolveEndpointInvalidBody(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.server.URL+"/resolve", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLifecycleEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/modules/2/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m report.Module
	decode(t, resp, &m)
	assert.Equal(t, "ACTIVE", m.State)
	assert.True(t, m.PersistentlyStarted)

	resp = f.do(t, http.MethodPost, "/modules/2/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &m)
	assert.Equal(t, "RESOLVED", m.State)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/modules/3/start", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/modules/0/stop", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, "/modules/0", nil).StatusCode)
}

func TestUninstallAndRefresh(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.container.Resolve([]*modwire.Module{f.user}, true))

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/modules/1", nil).StatusCode)

	resp := f.do(t, http.MethodGet, "/removal-pending", nil)
	var pending []string
	decode(t, resp, &pending)
	assert.Equal(t, []string{"api_1.0.0[1]"}, pending)

	resp = f.do(t, http.MethodPost, "/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var refreshed struct {
		Refreshed []uint64 `json:"refreshed"`
	}
	decode(t, resp, &refreshed)
	assert.Equal(t, []uint64{f.api.ID(), f.user.ID()}, refreshed.Refreshed)

	resp = f.do(t, http.MethodGet, "/removal-pending", nil)
	decode(t, resp, &pending)
	assert.Empty(t, pending)
	assert.Equal(t, modwire.StateInstalled, f.user.State())
}

func TestStartLevelEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/startlevel", nil)
	var level struct {
		Level int `json:"level"`
	}
	decode(t, resp, &level)
	assert.Equal(t, 1, level.Level)

	resp = f.do(t, http.MethodPut, "/startlevel", map[string]int{"level": 4})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &level)
	assert.Equal(t, 4, level.Level)
	assert.Equal(t, 4, f.container.StartLevel())

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/startlevel", map[string]int{"level": -1}).StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.container.Resolve(nil, false))

	resp := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "modwire_resolve_attempts_total")
	assert.Contains(t, buf.String(), `modwire_modules{state="RESOLVED"} 2`)
}
