package transport

import (
	"net"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/gcooper407/kvstore/internal/message"
)

// maxDatagram is the receive buffer size spec.md §6 mandates.
const maxDatagram = 65535

// pollTimeout bounds how long a single non-blocking receive attempt may
// block before Transport gives control back to the event loop (spec.md §5:
// "the only blocking primitive is the non-blocking socket read with a
// 100 µs poll").
const pollTimeout = 100 * time.Microsecond

// Transport is a single UDP socket shared by send and receive. Every
// message — to a peer, to a client, or to the cluster controller — is
// addressed by replica id in the JSON envelope and delivered through the
// one well-known port the whole cluster shares (spec.md §6); this struct
// binds its own ephemeral local socket and forwards every outbound
// datagram to that shared port, letting the recipient-side routing happen
// by id rather than by destination address.
type Transport struct {
	conn   *net.UDPConn
	target *net.UDPAddr
	codec  Codec
}

// Listen opens this replica's local socket and records the cluster's
// shared port as the send target. Bind failure is the only terminal
// startup error (spec.md §7).
func Listen(sharedPort int) (*Transport, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return nil, errors.Annotate(err, "bind local udp socket")
	}
	return &Transport{
		conn:   conn,
		target: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: sharedPort},
	}, nil
}

// Close releases the socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Send marshals and writes a single message to the shared port. A send
// failure is treated as message loss (spec.md §7): logged and swallowed,
// never retried here.
func (t *Transport) Send(m message.Message) {
	b, err := t.codec.Encode(m)
	if err != nil {
		log.Warn("dropping unencodable outbound message", zap.String("type", string(m.Type)), zap.Error(err))
		return
	}
	if _, err := t.conn.WriteToUDP(b, t.target); err != nil {
		log.Warn("dropping message on send failure", zap.String("type", string(m.Type)), zap.Error(err))
	}
}

// ReceiveAll drains every datagram currently waiting on the socket,
// decoding each into a message.Message. Malformed datagrams are dropped
// silently (spec.md §7); the receive loop never blocks longer than
// pollTimeout per attempt, so the caller's tick always makes forward
// progress even with nothing to read.
func (t *Transport) ReceiveAll() []message.Message {
	buf := make([]byte, maxDatagram)
	var out []message.Message
	for {
		if err := t.conn.SetReadDeadline(time.Now().Add(pollTimeout)); err != nil {
			log.Warn("failed to set read deadline", zap.Error(err))
			return out
		}
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return out
			}
			log.Warn("udp read error", zap.Error(err))
			return out
		}
		m, err := t.codec.Decode(buf[:n])
		if err != nil {
			log.Debug("dropping malformed datagram", zap.Error(err))
			continue
		}
		out = append(out, m)
	}
}
