package parser

import (
	"bytes"
	"encoding/xml"
	"math"
	"strconv"
	"time"

	"github.com/benwashere/swimfeed/internal/events"
)

// leaderLineDirections maps the TAIS "lld" code to the fixed compass
// values spec.md §4.3 assigns it. 0 means absent/unrecognized.
var leaderLineDirections = map[string]int{
	"NW": 1, "N": 2, "NE": 3, "W": 4, "E": 6, "SW": 7, "S": 8, "SE": 9,
}

// taisDoc mirrors the subset of TATrackAndFlightPlan this parser reads.
type taisDoc struct {
	XMLName xml.Name    `xml:"TATrackAndFlightPlan"`
	Records []taisRecord `xml:"record"`
}

type taisRecord struct {
	Track      *taisTrack      `xml:"track"`
	FlightPlan *taisFlightPlan `xml:"flightPlan"`
}

type taisTrack struct {
	Lat         string `xml:"lat,attr"`
	Lon         string `xml:"lon,attr"`
	Alt         string `xml:"alt,attr"`
	VX          string `xml:"vx,attr"`
	VY          string `xml:"vy,attr"`
	VertRate    string `xml:"vertRate,attr"`
	Beacon      string `xml:"beaconCode,attr"`
	ACAddress   string `xml:"acAddress,attr"`
	OnGround    string `xml:"surface,attr"`
	Ident       string `xml:"ident,attr"`
	Facility    string `xml:"facility,attr"`
	TrackNum    string `xml:"trackNum,attr"`
}

type taisFlightPlan struct {
	Callsign          string `xml:"callsign,attr"`
	Type              string `xml:"type,attr"`
	EquipmentSuffix   string `xml:"equipmentSuffix,attr"`
	FlightRules       string `xml:"flightRules,attr"`
	Origin            string `xml:"departureAirport,attr"`
	Destination       string `xml:"arrivalAirport,attr"`
	EntryFix          string `xml:"entryFix,attr"`
	ExitFix           string `xml:"exitFix,attr"`
	Route             string `xml:"route,attr"`
	RequestedAltitude string `xml:"requestedAltitude,attr"`
	AssignedBeacon    string `xml:"assignedBeaconCode,attr"`
	Runway            string `xml:"runway,attr"`
	ScratchpadOne     string `xml:"scratchPad1,attr"`
	ScratchpadTwo     string `xml:"scratchPad2,attr"`
	OwnerSector       string `xml:"ownerSector,attr"`
	PendingHandoff    string `xml:"pendingHandoffSector,attr"`
	LLD               string `xml:"lld,attr"`
	Facility          string `xml:"facility,attr"`
	ComputerID        string `xml:"computerId,attr"`
	TrackNum          string `xml:"trackNum,attr"`
}

// TAISParser implements the TAIS contract in spec.md §4.3.
type TAISParser struct{}

func (TAISParser) CanParse(svc events.ServiceType, rootElement string) bool {
	return svc == events.ServiceTAIS && rootElement == "TATrackAndFlightPlan"
}

func (TAISParser) Parse(raw events.RawMessage) ([]events.Event, error) {
	var doc taisDoc
	if err := xml.NewDecoder(bytes.NewReader(raw.Payload)).Decode(&doc); err != nil {
		return nil, err
	}

	var out []events.Event
	for _, rec := range doc.Records {
		if rec.Track != nil {
			if ev, ok := parseTAISTrack(*rec.Track, raw.ReceivedAt); ok {
				out = append(out, ev)
			}
		}
		if rec.FlightPlan != nil {
			out = append(out, parseTAISFlightPlan(*rec.FlightPlan, raw.ReceivedAt))
		}
	}
	return out, nil
}

func parseTAISTrack(t taisTrack, ts time.Time) (events.Event, bool) {
	lat, errLat := strconv.ParseFloat(t.Lat, 64)
	lon, errLon := strconv.ParseFloat(t.Lon, 64)
	if errLat != nil || errLon != nil {
		return events.Event{}, false
	}

	vx, _ := strconv.ParseFloat(t.VX, 64)
	vy, _ := strconv.ParseFloat(t.VY, 64)
	groundSpeed := math.Round(math.Sqrt(vx*vx + vy*vy))

	var groundTrack float64
	groundTrackValid := !(vx == 0 && vy == 0)
	if groundTrackValid {
		groundTrack = math.Atan2(vx, vy) * 180 / math.Pi
		if groundTrack < 0 {
			groundTrack += 360
		}
	}

	altFeet, _ := strconv.ParseFloat(t.Alt, 64)
	vertRate, _ := strconv.ParseFloat(t.VertRate, 64)

	modeS := t.ACAddress
	if modeS == "000000" {
		modeS = "unknown"
	}

	tp := &events.TrackPosition{
		Lat:                lat,
		Lon:                lon,
		AltitudeFeet:       altFeet,
		AltitudeType:       events.AltitudePressure,
		GroundSpeedKnots:   groundSpeed,
		GroundTrackDegrees: groundTrack,
		GroundTrackValid:   groundTrackValid,
		VerticalRateFPM:    vertRate,
		Squawk:             t.Beacon,
		ModeSHex:           modeS,
		OnGround:           t.OnGround == "true" || t.OnGround == "1",
		IdentActive:        t.Ident == "true" || t.Ident == "1",
		Facility:           t.Facility,
		TrackNum:           t.TrackNum,
	}

	return events.Event{
		Kind:          events.KindTrackPosition,
		Timestamp:     ts,
		Source:        events.ServiceTAIS,
		TrackPosition: tp,
	}, true
}

func parseTAISFlightPlan(fp taisFlightPlan, ts time.Time) events.Event {
	equip := fp.EquipmentSuffix
	if equip == "unavailable" || equip == "" {
		equip = "unknown"
	}
	scratchOne := fp.ScratchpadOne
	if scratchOne == "" {
		scratchOne = "unknown"
	}
	scratchTwo := fp.ScratchpadTwo
	if scratchTwo == "" {
		scratchTwo = "unknown"
	}
	reqAlt, _ := strconv.Atoi(fp.RequestedAltitude)

	data := &events.FlightPlanData{
		Callsign:             fp.Callsign,
		AircraftType:         fp.Type,
		EquipmentSuffix:      equip,
		FlightRules:          fp.FlightRules,
		Origin:               fp.Origin,
		Destination:          fp.Destination,
		EntryFix:             fp.EntryFix,
		ExitFix:              fp.ExitFix,
		RouteText:            fp.Route,
		RequestedAltitude:    reqAlt,
		AssignedBeacon:       fp.AssignedBeacon,
		Runway:               fp.Runway,
		ScratchpadOne:        scratchOne,
		ScratchpadTwo:        scratchTwo,
		OwnerSector:          fp.OwnerSector,
		PendingHandoffSector: fp.PendingHandoff,
		LeaderLineDirection:  leaderLineDirections[fp.LLD],
		Facility:             fp.Facility,
		ComputerID:           fp.ComputerID,
		TrackNum:             fp.TrackNum,
	}

	return events.Event{
		Kind:       events.KindFlightPlan,
		Timestamp:  ts,
		Source:     events.ServiceTAIS,
		FlightPlan: data,
	}
}
