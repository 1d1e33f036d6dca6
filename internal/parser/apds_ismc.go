package parser

import "github.com/benwashere/swimfeed/internal/events"

// APDSISMCParser claims APDS and ISMC messages but, per spec.md §4.3,
// produces no events in this core: both feeds are accepted at the
// broker and bus layers so the dispatch does not log the
// unclaimed-message debug line for them, but neither has a domain event shape
// defined yet.
type APDSISMCParser struct{}

func (APDSISMCParser) CanParse(svc events.ServiceType, rootElement string) bool {
	return svc == events.ServiceAPDS || svc == events.ServiceISMC
}

func (APDSISMCParser) Parse(raw events.RawMessage) ([]events.Event, error) {
	return nil, nil
}
