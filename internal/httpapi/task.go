package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
)

// handleTaskCreate is POST /task/create?model=<opt>: persists the
// message as a new Pending task and enqueues it for a worker.
func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	message, err := decodeMessage(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	modelOverride := r.URL.Query().Get("model")
	t, err := s.executor.Submit(r.Context(), message, modelOverride)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, t)
}

// handleTaskQuery is GET /task/query?id=<id>: a single non-blocking
// read of current task state (nil if absent/expired).
func (s *Server) handleTaskQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeErr(w, fmt.Errorf("missing required query parameter 'id'"))
		return
	}

	t, err := s.executor.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, t)
}

// handleTaskResult is GET /task/result?id=<id>&timeout=<sec-opt>: long
// polls up to timeout seconds for a terminal status.
func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeErr(w, fmt.Errorf("missing required query parameter 'id'"))
		return
	}

	timeoutSeconds := 0
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeErr(w, fmt.Errorf("invalid 'timeout' query parameter %q: %w", raw, err))
			return
		}
		timeoutSeconds = parsed
	}

	t, err := s.executor.Result(r.Context(), id, timeoutSeconds)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, t)
}
