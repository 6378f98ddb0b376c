package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mcpttd/callmachine"
	"mcpttd/callmsg"
	"mcpttd/floor"
)

// callRunner gives the status API access to the machines.
type callRunner interface {
	Do(ctx context.Context, fn func(*callmachine.Registry)) error
	Tracker(id callmsg.CallID) (*floor.Tracker, bool)
}

// StatusServer exposes call state and manual call control over HTTP.
type StatusServer struct {
	calls   callRunner
	started time.Time
}

func NewStatusServer(calls callRunner) *StatusServer {
	return &StatusServer{calls: calls, started: time.Now()}
}

func (s *StatusServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/calls", s.listCalls)
		r.Get("/calls/{callId}", s.getCall)
		r.Get("/calls/{callId}/floor", s.getFloor)
		r.Post("/calls/{callId}/initiate", s.initiateCall)
		r.Post("/calls/{callId}/release", s.releaseCall)
	})

	return r
}

func (s *StatusServer) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *StatusServer) listCalls(w http.ResponseWriter, r *http.Request) {
	var calls []callmachine.CallStatus
	if err := s.calls.Do(r.Context(), func(reg *callmachine.Registry) {
		calls = reg.Snapshot()
	}); err != nil {
		respondRunError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"calls": calls,
		"total": len(calls),
	})
}

func (s *StatusServer) getCall(w http.ResponseWriter, r *http.Request) {
	id := callmsg.CallID(chi.URLParam(r, "callId"))
	var (
		machines []callmachine.CallStatus
		found    bool
	)
	if err := s.calls.Do(r.Context(), func(reg *callmachine.Registry) {
		machines, found = reg.Status(id)
	}); err != nil {
		respondRunError(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "call not found", nil)
		return
	}
	out := map[string]any{
		"call_id":  id,
		"machines": machines,
	}
	if tr, ok := s.calls.Tracker(id); ok {
		out["floor"] = tr.Snapshot()
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *StatusServer) getFloor(w http.ResponseWriter, r *http.Request) {
	id := callmsg.CallID(chi.URLParam(r, "callId"))
	tr, ok := s.calls.Tracker(id)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "call not found", nil)
		return
	}
	records := tr.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"call_id":      id,
		"participants": records,
		"total":        len(records),
	})
}

func (s *StatusServer) initiateCall(w http.ResponseWriter, r *http.Request) {
	s.controlClient(w, r, callmachine.ClientIdle, (*callmachine.ClientMachine).InitiateCall)
}

func (s *StatusServer) releaseCall(w http.ResponseWriter, r *http.Request) {
	s.controlClient(w, r, callmachine.ClientActive, (*callmachine.ClientMachine).ReleaseCall)
}

// controlClient applies op to the client machine of the call when it is
// in state want.
func (s *StatusServer) controlClient(w http.ResponseWriter, r *http.Request, want callmachine.ClientState, op func(*callmachine.ClientMachine)) {
	id := callmsg.CallID(chi.URLParam(r, "callId"))
	var (
		found      bool
		from, to   callmachine.ClientState
		applicable bool
	)
	if err := s.calls.Do(r.Context(), func(reg *callmachine.Registry) {
		m, ok := reg.Client(id)
		if !ok {
			return
		}
		found = true
		from = m.State()
		if from != want {
			return
		}
		applicable = true
		op(m)
		to = m.State()
	}); err != nil {
		respondRunError(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no client call with this id", nil)
		return
	}
	if !applicable {
		respondError(w, http.StatusConflict, "INVALID_STATE", "call is "+from.String(), map[string]any{
			"state": from.String(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"call_id": id,
		"from":    from.String(),
		"state":   to.String(),
	})
}

func respondRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, errGatewayStopped) {
		respondError(w, http.StatusServiceUnavailable, "STOPPED", err.Error(), nil)
		return
	}
	respondError(w, http.StatusGatewayTimeout, "TIMEOUT", err.Error(), nil)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string, extra map[string]any) {
	out := map[string]any{
		"error":   code,
		"message": message,
	}
	for k, v := range extra {
		out[k] = v
	}
	respondJSON(w, status, out)
}
