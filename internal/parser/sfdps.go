package parser

import (
	"bytes"
	"encoding/xml"

	"github.com/benwashere/swimfeed/internal/events"
)

// sfdpsHandoffKinds is the set of FIXM message kinds this parser
// accepts, per spec.md §4.3.
var sfdpsHandoffKinds = map[string]events.HandoffKind{
	"TH": events.HandoffTH, "HZ": events.HandoffHZ, "OH": events.HandoffOH,
	"FH": events.HandoffFH, "HP": events.HandoffHP, "HU": events.HandoffHU,
	"AH": events.HandoffAH, "HX": events.HandoffHX, "CL": events.HandoffCL,
	"LH": events.HandoffLH, "NP": events.HandoffNP,
}

// sfdpsMessage mirrors the subset of a FIXM flight message this parser
// reads: identity, ownership, handoff fields, and an optional embedded
// flight plan.
type sfdpsMessage struct {
	XMLName    xml.Name `xml:"FlightMessage"`
	MessageType string  `xml:"messageType,attr"`

	GUFI       string `xml:"flight>gufi"`
	FDPSGUFI   string `xml:"flight>fdpsGufi"`
	ComputerID string `xml:"flight>computerId"`
	Facility   string `xml:"flight>facility"`

	ControllingFacility string `xml:"flight>controllingUnit>facility"`
	ControllingSector   string `xml:"flight>controllingUnit>sector"`
	ReportingFacility   string `xml:"flight>reportingUnit>facility"`

	Receiving    string `xml:"flight>handoff>receivingSector"`
	Transferring string `xml:"flight>handoff>transferringSector"`
	Accepting    string `xml:"flight>handoff>acceptingSector"`

	FlightPlan *sfdpsFlightPlan `xml:"flight>flightPlan"`
}

type sfdpsFlightPlan struct {
	Callsign        string `xml:"callsign,attr"`
	AircraftType    string `xml:"aircraftType,attr"`
	WakeCategory    string `xml:"wakeCategory,attr"`
	EquipmentSuffix string `xml:"equipmentSuffix,attr"`
	FlightRules     string `xml:"flightRules,attr"`
	Origin          string `xml:"departureAirport,attr"`
	Destination     string `xml:"arrivalAirport,attr"`
	Route           string `xml:"route,attr"`
}

// SFDPSParser implements the SFDPS contract in spec.md §4.3.
type SFDPSParser struct{}

func (SFDPSParser) CanParse(svc events.ServiceType, rootElement string) bool {
	if svc != events.ServiceSFDPS || rootElement != "FlightMessage" {
		return false
	}
	return true
}

func (SFDPSParser) Parse(raw events.RawMessage) ([]events.Event, error) {
	var msg sfdpsMessage
	if err := xml.NewDecoder(bytes.NewReader(raw.Payload)).Decode(&msg); err != nil {
		return nil, err
	}

	kind, known := sfdpsHandoffKinds[msg.MessageType]
	if !known {
		return nil, nil
	}

	var fp *events.FlightPlanData
	if msg.FlightPlan != nil {
		equip := msg.FlightPlan.EquipmentSuffix
		if equip == "unavailable" || equip == "" {
			equip = "unknown"
		}
		fp = &events.FlightPlanData{
			Callsign:        msg.FlightPlan.Callsign,
			AircraftType:    msg.FlightPlan.AircraftType,
			WakeCategory:    msg.FlightPlan.WakeCategory,
			EquipmentSuffix: equip,
			FlightRules:     msg.FlightPlan.FlightRules,
			Origin:          msg.FlightPlan.Origin,
			Destination:     msg.FlightPlan.Destination,
			RouteText:       msg.FlightPlan.Route,
		}
	}

	update := &events.SFDPSUpdate{
		GUFI:                msg.GUFI,
		FDPSGUFI:            msg.FDPSGUFI,
		ComputerID:          msg.ComputerID,
		Facility:            msg.Facility,
		ControllingFacility: msg.ControllingFacility,
		ControllingSector:   msg.ControllingSector,
		ReportingFacility:   msg.ReportingFacility,
		Handoff:             kind,
		Receiving:           msg.Receiving,
		Transferring:        msg.Transferring,
		Accepting:           msg.Accepting,
		FlightPlan:          fp,
	}

	return []events.Event{{
		Kind:      events.KindSFDPSUpdate,
		Timestamp: raw.ReceivedAt,
		Source:    events.ServiceSFDPS,
		SFDPS:     update,
	}}, nil
}
