package fanout

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/benwashere/swimfeed/internal/errs"
	"github.com/benwashere/swimfeed/internal/flightstate"
	"github.com/benwashere/swimfeed/internal/identity"
)

// HTTPStreamHandler serves GET /dstars/{facility}/updates: a long-lived
// response body of newline-delimited JSON envelopes, flushed after
// each, filtered to one facility, per spec.md §4.5. Every envelope it
// writes for a flight still in the store is stamped with the legacy
// stable id the Identity Mapper
// assigns from the flight's (ModeSHex, TrackNum, facility) tuple, since
// this wire protocol predates GUFIs.
type HTTPStreamHandler struct {
	Registry     *Registry
	Store        *flightstate.Store
	Identity     *identity.Mapper
	WriteTimeout time.Duration
	Log          *logrus.Entry
}

func (h *HTTPStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	facility := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/dstars/"), "/updates")
	if facility == "" {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id := uuid.NewString()
	client := h.Registry.Register(id, facility)
	defer h.Registry.Unregister(id)

	ctx := r.Context()
	enc := json.NewEncoder(w)

	for {
		item, ok := client.queue.Pop(ctx)
		if !ok {
			return
		}
		env, ok := item.(flightstate.Envelope)
		if !ok {
			continue
		}
		env = h.stampLegacyID(env, facility)
		if err := writeNDJSONLine(w, enc, env); err != nil {
			cioErr := errs.ClientIO("HTTPStreamHandler.ServeHTTP", err)
			h.Log.WithError(cioErr).WithField("client", id).Warn("fanout: client write failed, disconnecting")
			return
		}
		flusher.Flush()
	}
}

// stampLegacyID resolves env's flight through the store and attaches
// the Identity Mapper's stable id for this facility. Envelopes with no
// GUFI (stats ticks) or whose flight has since been evicted pass
// through unstamped.
func (h *HTTPStreamHandler) stampLegacyID(env flightstate.Envelope, facility string) flightstate.Envelope {
	if h.Identity == nil || h.Store == nil || env.GUFI == "" {
		return env
	}
	fs, ok := h.Store.Get(env.GUFI)
	if !ok {
		return env
	}
	env.LegacyID = h.Identity.Lookup(fs.ModeSHex, fs.TrackNum, facility)
	return env
}

func writeNDJSONLine(w http.ResponseWriter, enc *json.Encoder, env flightstate.Envelope) error {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return enc.Encode(env)
}
