package parser

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"time"

	"github.com/benwashere/swimfeed/internal/events"
)

type smesDoc struct {
	XMLName xml.Name    `xml:"SMES"`
	Targets []smesTarget `xml:"target"`
}

type smesTarget struct {
	Airport      string `xml:"airport,attr"`
	TrackID      string `xml:"asdexTrackId,attr"`
	Type         string `xml:"targetType,attr"`
	Lat          string `xml:"lat,attr"`
	Lon          string `xml:"lon,attr"`
	Alt          string `xml:"alt,attr"`
	GroundSpeed  string `xml:"groundSpeed,attr"`
	Heading      string `xml:"heading,attr"`
	FlightRef    string `xml:"flightRef,attr"`
	Full         string `xml:"full,attr"`
}

// SMESParser parses ASDE-X surface-movement reports into Surface
// Movement events, per spec.md §4.3.
type SMESParser struct{}

func (SMESParser) CanParse(svc events.ServiceType, rootElement string) bool {
	return svc == events.ServiceSMES && rootElement == "SMES"
}

func (SMESParser) Parse(raw events.RawMessage) ([]events.Event, error) {
	var doc smesDoc
	if err := xml.NewDecoder(bytes.NewReader(raw.Payload)).Decode(&doc); err != nil {
		return nil, err
	}

	out := make([]events.Event, 0, len(doc.Targets))
	for _, t := range doc.Targets {
		lat, _ := strconv.ParseFloat(t.Lat, 64)
		lon, _ := strconv.ParseFloat(t.Lon, 64)
		alt, _ := strconv.ParseFloat(t.Alt, 64)
		gs, _ := strconv.ParseFloat(t.GroundSpeed, 64)
		hdg, _ := strconv.ParseFloat(t.Heading, 64)

		targetType := events.TargetUnknown
		switch t.Type {
		case "aircraft":
			targetType = events.TargetAircraft
		case "vehicle":
			targetType = events.TargetVehicle
		}

		out = append(out, events.Event{
			Kind:      events.KindSurfaceMovement,
			Timestamp: raw.ReceivedAt,
			Source:    events.ServiceSMES,
			SurfaceMovement: &events.SurfaceMovement{
				Airport:          t.Airport,
				ASDEXTrackID:     t.TrackID,
				TargetType:       targetType,
				Lat:              lat,
				Lon:              lon,
				AltitudeFeet:     alt,
				GroundSpeedKnots: gs,
				HeadingDegrees:   hdg,
				FlightRef:        t.FlightRef,
				Full:             t.Full == "true" || t.Full == "1",
			},
		})
	}
	return out, nil
}

// parseTimestamp parses an ISO-8601 UTC timestamp attribute, returning
// nil when absent or unparseable rather than a zero-value time.
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
