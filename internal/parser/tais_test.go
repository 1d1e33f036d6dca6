package parser

import (
	"testing"
	"time"

	"github.com/benwashere/swimfeed/internal/events"
)

func TestTAISParserTrackKinematics(t *testing.T) {
	payload := []byte(`<TATrackAndFlightPlan>
		<record>
			<track lat="40.6" lon="-73.7" alt="10000" vx="3" vy="4" vertRate="-500"
				beaconCode="1200" acAddress="A1B2C3" surface="false" ident="false"
				facility="ZNY" trackNum="101"/>
		</record>
		<record>
			<track lat="40.7" lon="-73.8" alt="100" vx="0" vy="0" vertRate="0"
				beaconCode="1200" acAddress="000000" surface="true" ident="false"
				facility="ZNY" trackNum="102"/>
		</record>
	</TATrackAndFlightPlan>`)

	raw := events.RawMessage{
		ReceivedAt: time.Now().UTC(),
		Topic:      "swim.tais.zny",
		Service:    events.ServiceTAIS,
		Payload:    payload,
	}

	p := TAISParser{}
	if !p.CanParse(events.ServiceTAIS, "TATrackAndFlightPlan") {
		t.Fatal("CanParse() = false, want true")
	}

	evs, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("Parse() returned %d events, want 2", len(evs))
	}

	first := evs[0].TrackPosition
	if first.GroundSpeedKnots != 5 {
		t.Errorf("GroundSpeedKnots = %v, want 5 (sqrt(3^2+4^2))", first.GroundSpeedKnots)
	}
	if !first.GroundTrackValid {
		t.Error("GroundTrackValid = false, want true")
	}
	wantTrack := 36.86989764584402 // atan2(3,4) * 180/pi
	if diff := first.GroundTrackDegrees - wantTrack; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("GroundTrackDegrees = %v, want ~%v", first.GroundTrackDegrees, wantTrack)
	}

	second := evs[1].TrackPosition
	if second.GroundTrackValid {
		t.Error("GroundTrackValid = true for vx=vy=0, want false")
	}
	if second.ModeSHex != "unknown" {
		t.Errorf("ModeSHex = %q, want unknown for acAddress 000000", second.ModeSHex)
	}
}

func TestTAISParserLeaderLineAndDefaults(t *testing.T) {
	payload := []byte(`<TATrackAndFlightPlan>
		<record>
			<flightPlan callsign="UAL123" type="B738" equipmentSuffix="unavailable"
				flightRules="I" departureAirport="KJFK" arrivalAirport="KORD"
				scratchPad1="" scratchPad2="" lld="NW" facility="ZNY"
				computerId="123" trackNum="101"/>
		</record>
	</TATrackAndFlightPlan>`)

	raw := events.RawMessage{Service: events.ServiceTAIS, Payload: payload}
	evs, err := (TAISParser{}).Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("Parse() returned %d events, want 1", len(evs))
	}

	fp := evs[0].FlightPlan
	if fp.EquipmentSuffix != "unknown" {
		t.Errorf("EquipmentSuffix = %q, want unknown", fp.EquipmentSuffix)
	}
	if fp.ScratchpadOne != "unknown" || fp.ScratchpadTwo != "unknown" {
		t.Errorf("scratchpads = %q/%q, want unknown/unknown", fp.ScratchpadOne, fp.ScratchpadTwo)
	}
	if fp.LeaderLineDirection != 1 {
		t.Errorf("LeaderLineDirection = %d, want 1 (NW)", fp.LeaderLineDirection)
	}
}

func TestAPDSISMCParserClaimsWithoutEvents(t *testing.T) {
	p := APDSISMCParser{}
	if !p.CanParse(events.ServiceAPDS, "anything") {
		t.Error("APDS/ISMC parser should claim APDS regardless of root element")
	}
	evs, err := p.Parse(events.RawMessage{})
	if err != nil || evs != nil {
		t.Errorf("Parse() = %v, %v, want nil, nil", evs, err)
	}
}
