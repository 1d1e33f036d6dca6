package broker

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync/atomic"

	"github.com/benwashere/swimfeed/internal/config"
)

// DefaultSession is a minimal TLS session binding usable for local runs
// and integration tests against a newline-framed stand-in for the real
// SMF broker client, which spec.md explicitly scopes out as an external
// collaborator specified only by interface. Each line received is
// "topic\tpayload"; DefaultSession treats every delivery as already
// acknowledged once handled, since the stand-in protocol has no distinct
// ack frame.
type DefaultSession struct {
	conn    net.Conn
	nextID  atomic.Uint64
}

// NewDefaultSession returns a Session dialing a TLS-framed newline
// stream at cfg.Host.
func NewDefaultSession() *DefaultSession {
	return &DefaultSession{}
}

func (s *DefaultSession) Connect(ctx context.Context, cfg config.BrokerConfig) error {
	addr := strings.TrimPrefix(cfg.Host, "tls://")

	dialer := &tls.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	s.conn = conn

	auth := fmt.Sprintf("AUTH\t%s\t%s\t%s\t%s\n", cfg.VPN, cfg.Username, cfg.Password, cfg.Queue)
	if _, err := conn.Write([]byte(auth)); err != nil {
		conn.Close()
		return fmt.Errorf("authenticate: %w", err)
	}
	return nil
}

func (s *DefaultSession) Receive(ctx context.Context, handle func(Delivery)) error {
	if s.conn == nil {
		return fmt.Errorf("receive called before connect")
	}

	// Closing the connection on cancellation is what unblocks the
	// scanner below; the goroutine exits on its own once ctx ends,
	// whichever of the two happens first.
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		topic, payload, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		id := s.nextID.Add(1)
		handle(Delivery{
			Topic:   topic,
			Payload: []byte(payload),
			Ack:     func() {},
			Nack:    func() { _ = id },
		})
	}
	return scanner.Err()
}

func (s *DefaultSession) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
