// Package flightstate is the single-writer reconciliation engine
// described in spec.md §4.4: a GUFI-keyed map of Flight State, merged
// field-by-field from SFDPS updates and correlated non-SFDPS events,
// driving the handoff state machine and the per-flight event log. The
// store owns the only large piece of shared mutable state in the
// pipeline; every other component talks to it only through its public
// methods or the snapshots it broadcasts.
package flightstate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohae/deepcopy"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/benwashere/swimfeed/internal/bus"
	"github.com/benwashere/swimfeed/internal/errs"
	"github.com/benwashere/swimfeed/internal/events"
)

var upperCaser = cases.Upper(language.English)

// Status is the lifecycle state of a tracked flight.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusDropped   Status = "dropped"
)

// HandoffState is the control-transfer state machine's current node,
// per the table in spec.md §4.4.
type HandoffState string

const (
	HandoffIdle      HandoffState = "idle"
	HandoffProposed  HandoffState = "proposed"
	HandoffCompleted HandoffState = "completed"
	HandoffTerminal  HandoffState = "terminal"
)

// StateChange is one entry in a flight's bounded event log.
type StateChange struct {
	Timestamp time.Time
	Kind      string
	Fields    map[string]any
}

// FlightState is the authoritative, merged record for one GUFI.
type FlightState struct {
	GUFI     string
	FDPSGUFI string
	Status   Status

	Callsign     string
	AircraftType string
	WakeCategory string
	FlightRules  string
	Origin       string
	Destination  string
	RouteText    string

	Lat, Lon         float64
	AltitudeFeet     float64
	GroundSpeedKnots float64
	GroundTrackDeg   float64

	ControllingFacility string
	ControllingSector   string
	ReportingFacility   string

	// ModeSHex/TrackNum are the legacy correlation keys the Identity
	// Mapper uses to stamp a stable id onto envelopes relayed to
	// /dstars clients; they are not otherwise part of the authoritative
	// merge.
	ModeSHex string
	TrackNum string

	// CIDByFacility is a per-facility computer-id map, union-merged
	// across facilities and never overwritten for a facility that
	// already holds a value unless it genuinely changes.
	CIDByFacility map[string]string

	Handoff      HandoffState
	Receiving    string
	Transferring string
	Accepting    string
	completedAt  time.Time

	LastEventAt time.Time
	EventLog    []StateChange

	everBroadcast bool

	// removed guards against re-firing the terminal "remove" envelope:
	// once a flight is CANCELLED it stays in s.flight for
	// terminalRetention so a trailing event still resolves against it,
	// and emit must not re-broadcast remove for every one of those. A
	// flight the staleness sweep marks DROPPED is deleted in that same
	// sweep.
	removed    bool
	terminalAt time.Time
}

// eventLogDepth is the bounded ring size from spec.md §4.4 step 4.
const eventLogDepth = 50

// handoffCoolDown is the window after which a COMPLETED handoff relaxes
// back to IDLE, per spec.md §4.4's table.
const handoffCoolDown = 60 * time.Second

// terminalRetention is how long a CANCELLED flight stays in the map
// after its terminal remove has been broadcast, per invariant §3.2
// ("retained briefly for final-event delivery") before the sweeper
// frees it.
const terminalRetention = 30 * time.Second

// Envelope is the broadcast unit the Client Fanout relays, per
// spec.md §6's schema list.
type Envelope struct {
	Type          string         `json:"type"`
	GUFI          string         `json:"gufi,omitempty"`
	Flights       []*FlightState `json:"flights,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
	MsgTotal      int64          `json:"msgTotal,omitempty"`
	MsgRate       float64        `json:"msgRate,omitempty"`
	ActiveFlights int            `json:"activeFlights,omitempty"`

	// LegacyID is stamped by the Identity Mapper only on envelopes
	// relayed to /dstars clients; websocket clients never see it.
	LegacyID string `json:"legacyId,omitempty"`
}

// Store is the single-writer flight-state reconciliation engine.
type Store struct {
	log *logrus.Entry

	mu     sync.RWMutex
	flight map[string]*FlightState

	// secondary indices correlate non-SFDPS events (which carry no
	// GUFI in this wire model) into an already-known flight.
	byComputerFacility map[string]string // "<computerID>|<facility>" -> gufi
	byModeS            map[string]string
	byCallsign         map[string]string
	byTrackFacility    map[string]string // "<trackNum>|<facility>" -> gufi

	staleTimeout      time.Duration
	sweepInterval     time.Duration
	terminalRetention time.Duration

	stats stats

	// invariantErrors counts panics recovered from Apply — a diagnostic
	// counter for the KindInvariant path (log+skip), surfaced on /diag.
	invariantErrors atomic.Uint64

	// broadcast relays one envelope to the Client Fanout. The facility
	// argument scopes per-flight envelopes (snapshot/update/remove) to
	// that flight's controlling facility; "" broadcasts to every client
	// and is used for the process-wide stats envelope and for flights
	// with no controlling facility yet.
	broadcast func(Envelope, string)
}

type stats struct {
	mu         sync.Mutex
	total      int64
	rate       float64
	lastTick   time.Time
	sinceTick  int64
}

// New builds a Store. broadcast is called once per envelope the store
// emits, with the facility the envelope is scoped to (see the
// Store.broadcast field doc); staleTimeout/sweepInterval default to 10
// minutes/60 seconds when zero.
func New(log *logrus.Entry, staleTimeout, sweepInterval time.Duration, broadcast func(Envelope, string)) *Store {
	if staleTimeout <= 0 {
		staleTimeout = 10 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Second
	}
	return &Store{
		log:                 log,
		flight:              make(map[string]*FlightState),
		byComputerFacility:  make(map[string]string),
		byModeS:             make(map[string]string),
		byCallsign:          make(map[string]string),
		byTrackFacility:     make(map[string]string),
		staleTimeout:        staleTimeout,
		sweepInterval:       sweepInterval,
		terminalRetention:   terminalRetention,
		broadcast:           broadcast,
	}
}

// Run subscribes to the bus for domain events, reconciles them into the
// store, and runs the staleness sweeper and the once-a-second stats
// broadcast until ctx ends. It is the store's single writer task.
func (s *Store) Run(ctx context.Context, evBus *bus.Bus) {
	sub := evBus.Subscribe(ctx, "FlightStateStore", bus.DefaultCapacity)
	defer sub.Unsubscribe()

	sweepTicker := time.NewTicker(s.sweepInterval)
	defer sweepTicker.Stop()
	statsTicker := time.NewTicker(time.Second)
	defer statsTicker.Stop()

	// sub.Recv blocks on the queue's condition variable, which a timer
	// cannot wake; pump it into a channel so the select below can also
	// service the sweeper and stats ticks while the bus is idle.
	msgs := make(chan events.Event)
	go func() {
		defer close(msgs)
		for {
			msg, ok := sub.Recv(ctx)
			if !ok {
				return
			}
			if ev, ok := msg.(events.Event); ok {
				select {
				case msgs <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			s.sweepStale()
		case <-statsTicker.C:
			s.tickStats()
		case ev, ok := <-msgs:
			if !ok {
				return
			}
			s.Apply(ev)
		}
	}
}

// Apply reconciles a single domain event into the store synchronously.
// Run calls this for every event it reads off the bus; it is exported
// so tests can drive the store without a live bus subscription.
func (s *Store) Apply(ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.invariantErrors.Add(1)
			ie := errs.Invariant("Store.Apply", "recovered panic applying %s event: %v", ev.Kind, r)
			s.log.WithError(ie).Error("flightstate: invariant violation, skipping event")
		}
	}()

	s.stats.mu.Lock()
	s.stats.total++
	s.stats.sinceTick++
	s.stats.mu.Unlock()

	switch ev.Kind {
	case events.KindSFDPSUpdate:
		s.applySFDPS(ev.SFDPS, ev.Timestamp)
	case events.KindTrackPosition:
		s.applyTrackPosition(ev.TrackPosition, ev.Timestamp)
	case events.KindFlightPlan:
		s.applyFlightPlan(ev.FlightPlan, ev.Timestamp)
	case events.KindDeparture:
		// Departure timing has no GUFI correlation path in this core;
		// the store ignores it and no other component consumes it.
	case events.KindSurfaceMovement:
		s.applySurfaceMovement(ev.SurfaceMovement, ev.Timestamp)
	}
}

// applySFDPS performs the locate-or-create, field-merge, and handoff
// transition described in spec.md §4.4 steps 1-3.
func (s *Store) applySFDPS(u *events.SFDPSUpdate, ts time.Time) {
	if u == nil || u.GUFI == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fs, existed := s.flight[u.GUFI]
	if !existed {
		fs = &FlightState{
			GUFI:          u.GUFI,
			Status:        StatusActive,
			Handoff:       HandoffIdle,
			CIDByFacility: make(map[string]string),
		}
		s.flight[u.GUFI] = fs
	}

	changed := map[string]any{}
	mergeString(&fs.FDPSGUFI, u.FDPSGUFI, "fdpsGufi", changed)
	mergeString(&fs.ControllingFacility, u.ControllingFacility, "controllingFacility", changed)
	mergeString(&fs.ControllingSector, u.ControllingSector, "controllingSector", changed)
	mergeString(&fs.ReportingFacility, u.ReportingFacility, "reportingFacility", changed)

	if u.ComputerID != "" && u.Facility != "" {
		prior, had := fs.CIDByFacility[u.Facility]
		if !had {
			fs.CIDByFacility[u.Facility] = u.ComputerID
			changed["cid."+u.Facility] = u.ComputerID
			s.byComputerFacility[u.ComputerID+"|"+u.Facility] = u.GUFI
		} else if prior != u.ComputerID {
			fs.CIDByFacility[u.Facility] = u.ComputerID
			changed["cid."+u.Facility] = u.ComputerID
			s.byComputerFacility[u.ComputerID+"|"+u.Facility] = u.GUFI
		}
	}

	if u.FlightPlan != nil {
		mergeFlightPlanInto(fs, u.FlightPlan, changed)
		if fs.Callsign != "" {
			s.byCallsign[upperCaser.String(fs.Callsign)] = u.GUFI
		}
	}

	s.transitionHandoff(fs, u.Handoff, u.Receiving, u.Transferring, u.Accepting, ts, changed)

	fs.LastEventAt = ts
	s.appendLog(fs, ts, string(u.Handoff), changed)
	s.emit(fs, changed)
}

// transitionHandoff applies the state table from spec.md §4.4 step 3.
func (s *Store) transitionHandoff(fs *FlightState, kind events.HandoffKind, receiving, transferring, accepting string, ts time.Time, changed map[string]any) {
	if kind == events.HandoffCL {
		if fs.Status != StatusCancelled {
			fs.Status = StatusCancelled
			fs.Handoff = HandoffTerminal
			fs.terminalAt = time.Now()
			changed["status"] = fs.Status
		}
		return
	}

	if fs.Handoff == HandoffCompleted && ts.Sub(fs.completedAt) >= handoffCoolDown {
		fs.Handoff = HandoffIdle
	}

	switch fs.Handoff {
	case HandoffIdle:
		switch kind {
		case events.HandoffHP, events.HandoffHU, events.HandoffAH:
			fs.Receiving, fs.Transferring, fs.Accepting = receiving, transferring, accepting
			fs.Handoff = HandoffProposed
			changed["handoff"] = fs.Handoff
		}
	case HandoffProposed:
		switch kind {
		case events.HandoffHX:
			fs.Receiving, fs.Transferring, fs.Accepting = "", "", ""
			fs.Handoff = HandoffIdle
			changed["handoff"] = fs.Handoff
		case events.HandoffOH:
			if fs.ControllingFacility == fs.Receiving {
				fs.Receiving, fs.Transferring, fs.Accepting = "", "", ""
				fs.Handoff = HandoffCompleted
				fs.completedAt = ts
				changed["handoff"] = fs.Handoff
			}
		case events.HandoffHP:
			if receiving != fs.Receiving {
				fs.Receiving = receiving
				changed["handoff.receiving"] = receiving
			}
		}
	}
	// TH/HZ/NP: position/kinematics update only, no transition.
}

func (s *Store) applyFlightPlan(fp *events.FlightPlanData, ts time.Time) {
	if fp == nil {
		return
	}
	gufi := s.resolveFlightPlanGUFI(fp)
	if gufi == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.flight[gufi]
	if !ok {
		return
	}

	changed := map[string]any{}
	mergeFlightPlanInto(fs, fp, changed)
	if fp.Callsign != "" {
		s.byCallsign[upperCaser.String(fp.Callsign)] = gufi
	}
	if fp.TrackNum != "" && fp.Facility != "" {
		// Registers the correlation so a later bare TrackPosition
		// record (no computer id of its own) can still resolve to
		// this GUFI via TrackNum+Facility alone.
		s.byTrackFacility[fp.TrackNum+"|"+fp.Facility] = gufi
		fs.TrackNum = fp.TrackNum
	}
	fs.LastEventAt = ts
	s.appendLog(fs, ts, "flightPlan", changed)
	s.emit(fs, changed)
}

func (s *Store) resolveFlightPlanGUFI(fp *events.FlightPlanData) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if fp.ComputerID != "" && fp.Facility != "" {
		if gufi, ok := s.byComputerFacility[fp.ComputerID+"|"+fp.Facility]; ok {
			return gufi
		}
	}
	if fp.TrackNum != "" && fp.Facility != "" {
		if gufi, ok := s.byTrackFacility[fp.TrackNum+"|"+fp.Facility]; ok {
			return gufi
		}
	}
	if fp.Callsign != "" {
		if gufi, ok := s.byCallsign[upperCaser.String(fp.Callsign)]; ok {
			return gufi
		}
	}
	return ""
}

func (s *Store) applyTrackPosition(tp *events.TrackPosition, ts time.Time) {
	if tp == nil {
		return
	}
	gufi := s.resolveTrackGUFI(tp)
	if gufi == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.flight[gufi]
	if !ok {
		return
	}

	changed := map[string]any{}
	mergeFloat(&fs.Lat, tp.Lat, "lat", changed)
	mergeFloat(&fs.Lon, tp.Lon, "lon", changed)
	mergeFloat(&fs.AltitudeFeet, tp.AltitudeFeet, "altitudeFeet", changed)
	mergeFloat(&fs.GroundSpeedKnots, tp.GroundSpeedKnots, "groundSpeedKnots", changed)
	if tp.GroundTrackValid {
		mergeFloat(&fs.GroundTrackDeg, tp.GroundTrackDegrees, "groundTrackDeg", changed)
	}
	if tp.TrackNum != "" && tp.Facility != "" {
		s.byTrackFacility[tp.TrackNum+"|"+tp.Facility] = gufi
		fs.TrackNum = tp.TrackNum
	}
	if tp.ModeSHex != "" && tp.ModeSHex != "unknown" {
		s.byModeS[tp.ModeSHex] = gufi
		fs.ModeSHex = tp.ModeSHex
	}

	fs.LastEventAt = ts
	s.appendLog(fs, ts, "trackPosition", changed)
	s.emit(fs, changed)
}

func (s *Store) resolveTrackGUFI(tp *events.TrackPosition) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tp.TrackNum != "" && tp.Facility != "" {
		if gufi, ok := s.byTrackFacility[tp.TrackNum+"|"+tp.Facility]; ok {
			return gufi
		}
	}
	if tp.ModeSHex != "" && tp.ModeSHex != "unknown" {
		if gufi, ok := s.byModeS[tp.ModeSHex]; ok {
			return gufi
		}
	}
	return ""
}

func (s *Store) applySurfaceMovement(sm *events.SurfaceMovement, ts time.Time) {
	if sm == nil || sm.FlightRef == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.flight[sm.FlightRef]
	if !ok {
		return
	}

	changed := map[string]any{}
	mergeFloat(&fs.Lat, sm.Lat, "lat", changed)
	mergeFloat(&fs.Lon, sm.Lon, "lon", changed)
	mergeFloat(&fs.AltitudeFeet, sm.AltitudeFeet, "altitudeFeet", changed)
	mergeFloat(&fs.GroundSpeedKnots, sm.GroundSpeedKnots, "groundSpeedKnots", changed)

	fs.LastEventAt = ts
	s.appendLog(fs, ts, "surfaceMovement", changed)
	s.emit(fs, changed)
}

func (s *Store) appendLog(fs *FlightState, ts time.Time, kind string, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	fs.EventLog = append(fs.EventLog, StateChange{Timestamp: ts, Kind: kind, Fields: fields})
	if len(fs.EventLog) > eventLogDepth {
		fs.EventLog = fs.EventLog[len(fs.EventLog)-eventLogDepth:]
	}
}

// emit sends exactly one update envelope per processed message, or a
// snapshot on first emission, per spec.md §4.4 step 5, scoped to the
// flight's controlling facility so Registry.Broadcast can filter
// clients by facility. A transition into a terminal state sends a
// trailing remove exactly once (fs.removed), per spec.md §8; the
// record itself stays in the map for terminalRetention so a trailing
// event for the same GUFI still resolves before sweepStale frees it.
func (s *Store) emit(fs *FlightState, changed map[string]any) {
	if s.broadcast == nil {
		return
	}

	if !fs.everBroadcast {
		fs.everBroadcast = true
		s.broadcast(Envelope{Type: "snapshot", Flights: []*FlightState{deepcopy.Copy(fs).(*FlightState)}}, fs.ControllingFacility)
	} else {
		s.broadcast(Envelope{Type: "update", GUFI: fs.GUFI, Fields: changed}, fs.ControllingFacility)
	}

	if (fs.Status == StatusCancelled || fs.Status == StatusDropped) && !fs.removed {
		fs.removed = true
		s.broadcast(Envelope{Type: "remove", GUFI: fs.GUFI}, fs.ControllingFacility)
	}
}

// sweepStale evicts flights silent for longer than staleTimeout,
// marking them DROPPED and broadcasting their terminal remove, per
// spec.md §4.4's staleness-eviction paragraph. It also frees
// CANCELLED/DROPPED records once terminalRetention has elapsed since
// their remove was sent, so terminal flights don't accumulate in the
// map for the life of the process.
func (s *Store) sweepStale() {
	now := time.Now()
	s.mu.Lock()
	type removal struct {
		gufi     string
		facility string
	}
	var toRemove []removal
	var toFree []string
	for gufi, fs := range s.flight {
		switch fs.Status {
		case StatusActive:
			if now.Sub(fs.LastEventAt) > s.staleTimeout {
				fs.Status = StatusDropped
				fs.terminalAt = now
				fs.removed = true
				toRemove = append(toRemove, removal{gufi: gufi, facility: fs.ControllingFacility})
			}
		case StatusCancelled, StatusDropped:
			if now.Sub(fs.terminalAt) > s.terminalRetention {
				toFree = append(toFree, gufi)
			}
		}
	}
	for _, r := range toRemove {
		delete(s.flight, r.gufi)
	}
	for _, gufi := range toFree {
		delete(s.flight, gufi)
	}
	s.mu.Unlock()

	for _, r := range toRemove {
		s.broadcast(Envelope{Type: "remove", GUFI: r.gufi}, r.facility)
	}
}

// tickStats computes the 1s EWMA message rate (α=0.2) and broadcasts a
// stats envelope once per second, per spec.md §4.4's stats-counter
// paragraph.
func (s *Store) tickStats() {
	const alpha = 0.2

	s.stats.mu.Lock()
	sample := float64(s.stats.sinceTick)
	s.stats.sinceTick = 0
	if s.stats.lastTick.IsZero() {
		s.stats.rate = sample
	} else {
		s.stats.rate = alpha*sample + (1-alpha)*s.stats.rate
	}
	s.stats.lastTick = time.Now()
	total := s.stats.total
	rate := s.stats.rate
	s.stats.mu.Unlock()

	s.mu.RLock()
	active := 0
	for _, fs := range s.flight {
		if fs.Status == StatusActive {
			active++
		}
	}
	s.mu.RUnlock()

	if s.broadcast != nil {
		s.broadcast(Envelope{Type: "stats", MsgTotal: total, MsgRate: rate, ActiveFlights: active}, "")
	}
}

// Get returns a deep-copied snapshot of one flight, used by the
// GET /api/flights/{gufi} handler.
func (s *Store) Get(gufi string) (*FlightState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs, ok := s.flight[gufi]
	if !ok {
		return nil, false
	}
	return deepcopy.Copy(fs).(*FlightState), true
}

// Snapshot returns a deep-copied view of every active flight, used for
// the WebSocket binding's initial snapshot envelope.
func (s *Store) Snapshot() []*FlightState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*FlightState, 0, len(s.flight))
	for _, fs := range s.flight {
		if fs.Status != StatusActive {
			continue
		}
		out = append(out, deepcopy.Copy(fs).(*FlightState))
	}
	return out
}

// StatsSnapshot reports the current rolling counters, for GET /api/stats.
type StatsSnapshot struct {
	MsgTotal      int64   `json:"msgTotal"`
	MsgRate       float64 `json:"msgRate"`
	ActiveFlights int     `json:"activeFlights"`
}

// StatsSnapshot returns the store's current stats counters without
// waiting for the once-a-second broadcast tick.
func (s *Store) StatsSnapshot() StatsSnapshot {
	s.stats.mu.Lock()
	total, rate := s.stats.total, s.stats.rate
	s.stats.mu.Unlock()
	return StatsSnapshot{MsgTotal: total, MsgRate: rate, ActiveFlights: s.ActiveCount()}
}

// InvariantErrorCount reports how many events Apply has had to skip
// after recovering a panic, for the GET /diag handler.
func (s *Store) InvariantErrorCount() uint64 {
	return s.invariantErrors.Load()
}

// ActiveCount reports the number of flights currently in StatusActive.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, fs := range s.flight {
		if fs.Status == StatusActive {
			n++
		}
	}
	return n
}

func mergeString(dst *string, val, field string, changed map[string]any) {
	if val == "" || val == *dst {
		return
	}
	*dst = val
	changed[field] = val
}

func mergeFloat(dst *float64, val float64, field string, changed map[string]any) {
	if val == *dst {
		return
	}
	*dst = val
	changed[field] = val
}

func mergeFlightPlanInto(fs *FlightState, fp *events.FlightPlanData, changed map[string]any) {
	mergeString(&fs.Callsign, fp.Callsign, "callsign", changed)
	mergeString(&fs.AircraftType, fp.AircraftType, "aircraftType", changed)
	mergeString(&fs.WakeCategory, fp.WakeCategory, "wakeCategory", changed)
	mergeString(&fs.FlightRules, fp.FlightRules, "flightRules", changed)
	mergeString(&fs.Origin, fp.Origin, "origin", changed)
	mergeString(&fs.Destination, fp.Destination, "destination", changed)
	mergeString(&fs.RouteText, fp.RouteText, "routeText", changed)
}
