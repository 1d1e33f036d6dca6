// Package parser turns Raw Messages into domain events. Dispatch
// subscribes once to the bus, decodes the XML envelope, and offers the
// document to every registered Parser; each parser's CanParse acts as
// its own precondition, mirroring the teacher's atcparsers.go style of
// small, single-purpose parse functions keyed off a message type field
// rather than one large switch.
package parser

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/benwashere/swimfeed/internal/bus"
	"github.com/benwashere/swimfeed/internal/errs"
	"github.com/benwashere/swimfeed/internal/events"
)

// Parser claims Raw Messages of kinds it understands and emits zero or
// more domain events for a claimed message. Parsers are pure relative
// to process state: no I/O, no shared mutation.
type Parser interface {
	// CanParse reports whether this parser claims a raw message of the
	// given service type whose payload's root element is rootElement.
	CanParse(svc events.ServiceType, rootElement string) bool

	// Parse decodes raw into zero or more domain events. Called only
	// after CanParse returned true for the same payload.
	Parse(raw events.RawMessage) ([]events.Event, error)
}

// Dispatch is the single subscriber stage named "ParserPipeline" in
// spec.md §4.3: it reads Raw Messages off evBus and republishes the
// domain events every claiming parser produces.
type Dispatch struct {
	Bus     *bus.Bus
	Parsers []Parser
	Log     *logrus.Entry
}

const subscriberName = "ParserPipeline"

// Run subscribes to the bus and processes Raw Messages until ctx ends.
func (d *Dispatch) Run(ctx context.Context) {
	sub := d.Bus.Subscribe(ctx, subscriberName, bus.DefaultCapacity)
	defer sub.Unsubscribe()

	for {
		msg, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		raw, ok := msg.(events.RawMessage)
		if !ok {
			continue
		}
		d.process(raw)
	}
}

func (d *Dispatch) process(raw events.RawMessage) {
	root, err := peekRootElement(raw.Payload)
	if err != nil {
		pe := errs.Parse("peekRootElement", err)
		d.Log.WithError(pe).WithField("topic", raw.Topic).Warn("parser: malformed XML, dropping message")
		return
	}

	claimed := false
	for _, p := range d.Parsers {
		if !p.CanParse(raw.Service, root) {
			continue
		}
		claimed = true

		evs, err := p.Parse(raw)
		if err != nil {
			pe := errs.Parse(fmt.Sprintf("%T.Parse", p), err)
			d.Log.WithError(pe).WithField("topic", raw.Topic).Warn("parser: failed parsing claimed message, dropping")
			continue
		}
		for _, ev := range evs {
			d.Bus.Publish(ev)
		}
	}
	if !claimed {
		d.Log.WithField("topic", raw.Topic).WithField("service", raw.Service).WithField("root", root).Debug("parser: no registered parser claimed message")
	}
}

// peekRootElement validates that payload is well-formed enough to read
// its root start element, returning that element's local name.
func peekRootElement(payload []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}
