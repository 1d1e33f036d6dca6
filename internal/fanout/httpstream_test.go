package fanout

import (
	"testing"
	"time"

	"github.com/benwashere/swimfeed/internal/events"
	"github.com/benwashere/swimfeed/internal/flightstate"
	"github.com/benwashere/swimfeed/internal/identity"
)

func TestStampLegacyIDResolvesThroughStore(t *testing.T) {
	store := flightstate.New(nil, time.Minute, time.Hour, func(flightstate.Envelope, string) {})
	store.Apply(events.Event{
		Kind:      events.KindSFDPSUpdate,
		Timestamp: time.Now(),
		SFDPS: &events.SFDPSUpdate{
			GUFI:       "G1",
			Handoff:    events.HandoffTH,
			ComputerID: "C1",
			Facility:   "ZNY",
		},
	})
	store.Apply(events.Event{
		Kind:      events.KindFlightPlan,
		Timestamp: time.Now(),
		FlightPlan: &events.FlightPlanData{
			ComputerID: "C1",
			Facility:   "ZNY",
			TrackNum:   "T42",
		},
	})
	store.Apply(events.Event{
		Kind:      events.KindTrackPosition,
		Timestamp: time.Now(),
		TrackPosition: &events.TrackPosition{
			TrackNum: "T42",
			Facility: "ZNY",
			ModeSHex: "ABC123",
		},
	})

	h := &HTTPStreamHandler{Store: store, Identity: identity.New(time.Minute)}

	first := h.stampLegacyID(flightstate.Envelope{Type: "update", GUFI: "G1"}, "ZNY")
	if first.LegacyID == "" {
		t.Fatal("expected a non-empty legacy id")
	}

	second := h.stampLegacyID(flightstate.Envelope{Type: "update", GUFI: "G1"}, "ZNY")
	if second.LegacyID != first.LegacyID {
		t.Errorf("legacy id changed between lookups: %q vs %q", first.LegacyID, second.LegacyID)
	}
}

func TestStampLegacyIDPassesThroughUnknownGUFI(t *testing.T) {
	store := flightstate.New(nil, time.Minute, time.Hour, func(flightstate.Envelope, string) {})
	h := &HTTPStreamHandler{Store: store, Identity: identity.New(time.Minute)}

	env := h.stampLegacyID(flightstate.Envelope{Type: "update", GUFI: "unknown"}, "ZNY")
	if env.LegacyID != "" {
		t.Error("expected no legacy id stamped for an unresolved GUFI")
	}
}

func TestStampLegacyIDPassesThroughStatsEnvelope(t *testing.T) {
	h := &HTTPStreamHandler{Store: flightstate.New(nil, time.Minute, time.Hour, nil), Identity: identity.New(time.Minute)}
	env := h.stampLegacyID(flightstate.Envelope{Type: "stats"}, "ZNY")
	if env.LegacyID != "" {
		t.Error("expected no legacy id stamped on a GUFI-less stats envelope")
	}
}
