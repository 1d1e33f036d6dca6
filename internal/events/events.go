// Package events defines the wire-adjacent domain model the parser
// dispatch stage produces and the flight-state store consumes: the raw
// broker payload, the service-type classifier, and the tagged-variant
// domain event described in spec.md §9's "marker/polymorphic event
// type" design note — one Kind tag plus exactly one non-nil payload,
// dispatched by switching on Kind rather than by runtime type
// inspection.
package events

import (
	"strings"
	"time"
)

// ServiceType identifies which STDDS/SFDPS feed a Raw Message came from.
type ServiceType string

const (
	ServiceTAIS    ServiceType = "TAIS"
	ServiceTDES    ServiceType = "TDES"
	ServiceSMES    ServiceType = "SMES"
	ServiceAPDS    ServiceType = "APDS"
	ServiceISMC    ServiceType = "ISMC"
	ServiceSFDPS   ServiceType = "SFDPS"
	ServiceUnknown ServiceType = "UNKNOWN"
)

// ClassifyTopic infers a ServiceType from a case-insensitive substring
// match against a broker topic string, per spec.md §4.1.
func ClassifyTopic(topic string) ServiceType {
	upper := strings.ToUpper(topic)
	for _, svc := range []ServiceType{ServiceTAIS, ServiceTDES, ServiceSMES, ServiceAPDS, ServiceISMC} {
		if strings.Contains(upper, string(svc)) {
			return svc
		}
	}
	return ServiceUnknown
}

// RawMessage is an immutable record of one broker payload.
type RawMessage struct {
	ReceivedAt time.Time
	Topic      string
	Service    ServiceType
	Payload    []byte
}

// AltitudeType distinguishes how an altitude value was derived.
type AltitudeType string

const (
	AltitudePressure AltitudeType = "pressure"
	AltitudeTrue     AltitudeType = "true"
	AltitudeUnknown  AltitudeType = "unknown"
)

// TrackPosition is a single radar/ADS-B position report.
type TrackPosition struct {
	Lat, Lon float64

	AltitudeFeet float64
	AltitudeType AltitudeType

	GroundSpeedKnots float64

	// GroundTrackDegrees is only meaningful when GroundTrackValid is
	// true: per spec.md §8, vx==vy==0 means ground speed is 0 but
	// ground track is absent, not 0.
	GroundTrackDegrees float64
	GroundTrackValid   bool

	VerticalRateFPM float64
	Squawk          string
	ModeSHex        string // "unknown" for acAddress "000000"; "" when the attribute is absent
	OnGround        bool
	IdentActive     bool
	Facility        string

	// TrackNum correlates this position with a FlightPlanData emitted
	// from the same TAIS record, when the Flight-State Store has not
	// yet resolved a GUFI from the flight plan's computer id.
	TrackNum string
}

// FlightPlanData is the common flight-plan shape shared by every
// source that can emit one (TAIS record/flightPlan, SFDPS messages).
type FlightPlanData struct {
	Callsign        string
	AircraftType    string
	WakeCategory    string
	EquipmentSuffix string // "unknown" when absent or literal "unavailable"
	FlightRules     string
	Origin          string
	Destination     string
	EntryFix        string
	ExitFix         string
	RouteText       string
	RequestedAltitude int
	AssignedBeacon    string
	Runway            string
	ScratchpadOne     string // "unknown" when absent
	ScratchpadTwo     string // "unknown" when absent

	OwnerSector          string
	PendingHandoffSector string

	// LeaderLineDirection is 0 when absent, else one of the fixed map
	// values in spec.md §4.3 (NW=1 .. SE=9).
	LeaderLineDirection int

	// Facility/ComputerID/TrackNum are only populated for TAIS-origin
	// flight plans, used to correlate into an existing GUFI-keyed
	// flight record (see internal/flightstate).
	Facility   string
	ComputerID string
	TrackNum   string
}

// Departure carries gate/taxi/takeoff timing for one flight.
type Departure struct {
	Callsign string
	Airport  string
	Runway   string
	Gate     string

	GateOutUTC   *time.Time
	TaxiStartUTC *time.Time
	TakeoffUTC   *time.Time
}

// TargetType classifies an ASDE-X surface movement target.
type TargetType string

const (
	TargetAircraft TargetType = "aircraft"
	TargetVehicle  TargetType = "vehicle"
	TargetUnknown  TargetType = "unknown"
)

// SurfaceMovement is one ASDE-X surface-movement report.
type SurfaceMovement struct {
	Airport          string
	ASDEXTrackID     string
	TargetType       TargetType
	Lat, Lon         float64
	AltitudeFeet     float64
	GroundSpeedKnots float64
	HeadingDegrees   float64

	// FlightRef, when non-empty, cross-references a GUFI already known
	// to the Flight-State Store.
	FlightRef string

	// Full distinguishes a full report from a delta report.
	Full bool
}

// HandoffKind is the FIXM message kind driving the handoff state machine
// (spec.md §4.4's table) or a position-only update with no transition.
type HandoffKind string

const (
	HandoffTH HandoffKind = "TH"
	HandoffHZ HandoffKind = "HZ"
	HandoffOH HandoffKind = "OH"
	HandoffFH HandoffKind = "FH"
	HandoffHP HandoffKind = "HP"
	HandoffHU HandoffKind = "HU"
	HandoffAH HandoffKind = "AH"
	HandoffHX HandoffKind = "HX"
	HandoffCL HandoffKind = "CL"
	HandoffLH HandoffKind = "LH"
	HandoffNP HandoffKind = "NP"
)

// SFDPSUpdate is the state-merge payload an SFDPS FIXM message
// contributes to the Flight-State Store: identity, ownership, and
// handoff fields, plus an optional embedded flight plan.
type SFDPSUpdate struct {
	GUFI       string
	FDPSGUFI   string
	ComputerID string
	Facility   string // facility the ComputerID belongs to

	ControllingFacility string
	ControllingSector   string
	ReportingFacility   string

	Handoff      HandoffKind
	Receiving    string
	Transferring string
	Accepting    string

	FlightPlan *FlightPlanData
}

// Kind tags which payload an Event carries.
type Kind string

const (
	KindTrackPosition   Kind = "track_position"
	KindFlightPlan      Kind = "flight_plan"
	KindDeparture       Kind = "departure"
	KindSurfaceMovement Kind = "surface_movement"
	KindSFDPSUpdate     Kind = "sfdps_update"
)

// Event is the tagged-variant domain event republished to the bus by
// the parser dispatch stage.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Source    ServiceType

	TrackPosition   *TrackPosition
	FlightPlan      *FlightPlanData
	Departure       *Departure
	SurfaceMovement *SurfaceMovement
	SFDPS           *SFDPSUpdate
}
