package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benwashere/swimfeed/internal/events"
	"github.com/benwashere/swimfeed/internal/fanout"
	"github.com/benwashere/swimfeed/internal/flightstate"
)

func newTestHandlers(t *testing.T) (*Handlers, *flightstate.Store) {
	t.Helper()
	store := flightstate.New(nil, time.Minute, time.Hour, func(flightstate.Envelope, string) {})
	reg := fanout.NewRegistry(nil, 10)
	return &Handlers{Store: store, Registry: reg, StartedAt: time.Now()}, store
}

func TestHandleFlightFound(t *testing.T) {
	h, store := newTestHandlers(t)
	applySFDPSForTest(store, "GUFI-1")

	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/flights/GUFI-1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleFlightNotFound(t *testing.T) {
	h, _ := newTestHandlers(t)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/flights/unknown", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestHandlers(t)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleDiag(t *testing.T) {
	h, _ := newTestHandlers(t)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/diag", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// applySFDPSForTest drives the store through its public Apply entry
// point with a minimal SFDPS update, exactly as Store.Run would for a
// message read off the bus.
func applySFDPSForTest(store *flightstate.Store, gufi string) {
	store.Apply(events.Event{
		Kind:      events.KindSFDPSUpdate,
		Timestamp: time.Now(),
		Source:    events.ServiceSFDPS,
		SFDPS:     &events.SFDPSUpdate{GUFI: gufi, Handoff: events.HandoffTH},
	})
}
