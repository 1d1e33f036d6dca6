package parser

import (
	"bytes"
	"encoding/xml"

	"github.com/benwashere/swimfeed/internal/events"
)

type tdesDoc struct {
	XMLName  xml.Name         `xml:"TDES"`
	Messages []tdesDeparture `xml:"departureMessage"`
}

type tdesDeparture struct {
	Callsign     string `xml:"callsign,attr"`
	Airport      string `xml:"airport,attr"`
	Runway       string `xml:"runway,attr"`
	Gate         string `xml:"gate,attr"`
	GateOutUTC   string `xml:"gateOutTime,attr"`
	TaxiStartUTC string `xml:"taxiStartTime,attr"`
	TakeoffUTC   string `xml:"takeoffTime,attr"`
}

// TDESParser parses ATOP/TDES departure-timing messages into Departure
// events, per spec.md §4.3.
type TDESParser struct{}

func (TDESParser) CanParse(svc events.ServiceType, rootElement string) bool {
	return svc == events.ServiceTDES && rootElement == "TDES"
}

func (TDESParser) Parse(raw events.RawMessage) ([]events.Event, error) {
	var doc tdesDoc
	if err := xml.NewDecoder(bytes.NewReader(raw.Payload)).Decode(&doc); err != nil {
		return nil, err
	}

	out := make([]events.Event, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		out = append(out, events.Event{
			Kind:      events.KindDeparture,
			Timestamp: raw.ReceivedAt,
			Source:    events.ServiceTDES,
			Departure: &events.Departure{
				Callsign:     m.Callsign,
				Airport:      m.Airport,
				Runway:       m.Runway,
				Gate:         m.Gate,
				GateOutUTC:   parseTimestamp(m.GateOutUTC),
				TaxiStartUTC: parseTimestamp(m.TaxiStartUTC),
				TakeoffUTC:   parseTimestamp(m.TakeoffUTC),
			},
		})
	}
	return out, nil
}
