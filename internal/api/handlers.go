// Package api implements the plain-JSON HTTP surface described in
// spec.md §6: flight lookup, stats, health, and diagnostics. It is
// registered on the same Go 1.22+ enhanced http.ServeMux as the
// fanout package's streaming bindings.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/benwashere/swimfeed/internal/fanout"
	"github.com/benwashere/swimfeed/internal/flightstate"
)

// Handlers bundles the store and registry handles the HTTP surface
// needs to answer requests.
type Handlers struct {
	Store     *flightstate.Store
	Registry  *fanout.Registry
	StartedAt time.Time
}

// Register attaches every route this package owns to mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/flights/{gufi}", h.handleFlight)
	mux.HandleFunc("GET /api/stats", h.handleStats)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /diag", h.handleDiag)
}


func (h *Handlers) handleFlight(w http.ResponseWriter, r *http.Request) {
	gufi := r.PathValue("gufi")
	fs, ok := h.Store.Get(gufi)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.StatsSnapshot())
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) handleDiag(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"activeTracks":     h.Store.ActiveCount(),
		"connectedClients": h.Registry.Count(),
		"invariantErrors":  h.Store.InvariantErrorCount(),
		"uptimeSec":        int(time.Since(h.StartedAt).Seconds()),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
