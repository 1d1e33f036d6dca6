package parser

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/benwashere/swimfeed/internal/bus"
	"github.com/benwashere/swimfeed/internal/events"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type stubParser struct {
	claims bool
	evs    []events.Event
	err    error
}

func (p stubParser) CanParse(svc events.ServiceType, rootElement string) bool { return p.claims }
func (p stubParser) Parse(raw events.RawMessage) ([]events.Event, error)      { return p.evs, p.err }

func TestDispatchProcessDropsMalformedXML(t *testing.T) {
	d := &Dispatch{
		Bus:     nil,
		Parsers: []Parser{stubParser{claims: true}},
		Log:     testLog(),
	}

	// process() must return before touching d.Bus (nil here) when the
	// payload can't even be tokenized for its root element.
	d.process(events.RawMessage{Topic: "t", Payload: []byte("not xml <<>")})
}

func TestDispatchProcessNoParserClaims(t *testing.T) {
	d := &Dispatch{
		Bus:     nil,
		Parsers: []Parser{stubParser{claims: false}},
		Log:     testLog(),
	}
	// No parser claims, so d.Bus.Publish is never reached despite Bus
	// being nil; only the debug log fires.
	d.process(events.RawMessage{Topic: "t", Service: events.ServiceTAIS, Payload: []byte("<root/>")})
}

func TestDispatchProcessPublishesClaimedEvents(t *testing.T) {
	evBus := bus.New(testLog())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := evBus.Subscribe(ctx, "test", 10)
	defer sub.Unsubscribe()

	d := &Dispatch{
		Bus: evBus,
		Parsers: []Parser{stubParser{
			claims: true,
			evs:    []events.Event{{Kind: events.KindDeparture}},
		}},
		Log: testLog(),
	}
	d.process(events.RawMessage{Topic: "t", Service: events.ServiceTDES, Payload: []byte("<root/>")})

	recvCtx, recvCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer recvCancel()
	msg, ok := sub.Recv(recvCtx)
	if !ok {
		t.Fatal("expected one published event, got none")
	}
	if ev, ok := msg.(events.Event); !ok || ev.Kind != events.KindDeparture {
		t.Errorf("got %+v, want a departure event", msg)
	}
}
