package httpapi

import (
	"net/http"

	"github.com/GoCodeAlone/modwire"
	"github.com/GoCodeAlone/modwire/report"
)

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, views(s.container, s.container.Modules()))
}

func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	m, ok := s.module(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.ModuleOf(s.container, m, false))
}

func (s *Server) handleGetWiring(w http.ResponseWriter, r *http.Request) {
	m, ok := s.module(w, r)
	if !ok {
		return
	}
	rev := m.CurrentRevision()
	if rev == nil {
		writeError(w, modwire.ErrModuleUninstalled)
		return
	}
	wiring := report.WiringOf(s.container.Wiring(rev))
	if wiring == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: modwire.ErrModuleNotResolved.Error()})
		return
	}
	writeJSON(w, http.StatusOK, wiring)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	m, ok := s.module(w, r)
	if !ok {
		return
	}
	if err := s.container.Start(r.Context(), m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report.ModuleOf(s.container, m, false))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	m, ok := s.module(w, r)
	if !ok {
		return
	}
	if err := s.container.Stop(r.Context(), m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report.ModuleOf(s.container, m, false))
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	m, ok := s.module(w, r)
	if !ok {
		return
	}
	if err := s.container.Uninstall(r.Context(), m); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resolveRequest struct {
	Modules   []uint64 `json:"modules"`
	Mandatory bool     `json:"mandatory"`
}

type resolveResponse struct {
	Timestamp uint64          `json:"timestamp"`
	Modules   []report.Module `json:"modules"`
}

// handleResolve resolves the listed modules, or every unresolved module
// when none are listed.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	mods, err := s.modules(req.Modules)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.container.Resolve(mods, req.Mandatory); err != nil {
		writeError(w, err)
		return
	}
	if len(mods) == 0 {
		mods = s.container.Modules()
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		Timestamp: s.container.Timestamp(),
		Modules:   views(s.container, mods),
	})
}

type refreshRequest struct {
	Modules []uint64 `json:"modules"`
}

type refreshResponse struct {
	Refreshed []uint64 `json:"refreshed"`
}

// handleRefresh refreshes the listed modules, or the removal-pending ones
// when none are listed, and waits for the refresh to finish.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	mods, err := s.modules(req.Modules)
	if err != nil {
		writeError(w, err)
		return
	}
	closure := s.container.DependencyClosure(mods...)
	if err := s.container.Refresh(r.Context(), mods...); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Refreshed: moduleIDs(closure)})
}

func (s *Server) handleRemovalPending(w http.ResponseWriter, r *http.Request) {
	revs := s.container.RemovalPending()
	out := make([]string, 0, len(revs))
	for _, rev := range revs {
		out = append(out, rev.String())
	}
	writeJSON(w, http.StatusOK, out)
}

type startLevelBody struct {
	Level int `json:"level"`
}

func (s *Server) handleGetStartLevel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, startLevelBody{Level: s.container.StartLevel()})
}

// handleSetStartLevel changes the active start level and waits for the
// change to complete or the request to be cancelled.
func (s *Server) handleSetStartLevel(w http.ResponseWriter, r *http.Request) {
	var req startLevelBody
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	done, err := s.container.SetStartLevel(req.Level)
	if err != nil {
		writeError(w, err)
		return
	}
	select {
	case err := <-done:
		if err != nil {
			writeError(w, err)
			return
		}
	case <-r.Context().Done():
		writeJSON(w, http.StatusAccepted, startLevelBody{Level: req.Level})
		return
	}
	writeJSON(w, http.StatusOK, startLevelBody{Level: s.container.StartLevel()})
}
