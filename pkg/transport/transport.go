// Package transport defines the channel interfaces used between rank
// processes and the coordinator, and provides implementations over TCP,
// QUIC, and an in-process pipe for tests and single-process runs.
//
// A rank holds exactly one Session to the coordinator with one control
// stream carrying negotiation frames. Rank identity and addressing are
// supplied externally through configuration.
package transport

import (
	"context"
	"fmt"
	"net"
)

// Kind identifies the link type.
type Kind int

const (
	KindUnknown Kind = iota
	KindTCP
	KindQUIC
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindQUIC:
		return "quic"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// PeerID is an opaque stable peer identity (e.g. a rank label).
type PeerID string

// PeerInfo bundles peer identity and addressing hints.
type PeerInfo struct {
	ID   PeerID
	Addr string // transport-dependent address string
}

// TempPeerID builds a peer id from transport kind and remote address,
// used for inbound sessions before the first frame identifies the rank.
func TempPeerID(kind Kind, addr net.Addr) PeerID {
	if addr == nil {
		return PeerID(fmt.Sprintf("temp:%s:unknown", kind))
	}
	return PeerID(fmt.Sprintf("temp:%s:%s", kind, addr.String()))
}

// Stream is a bidirectional frame channel. Exactly one reader and one
// writer goroutine are expected; SendBytes is safe for concurrent callers.
type Stream interface {
	// SendBytes sends one message frame as opaque bytes.
	SendBytes([]byte) error
	// RecvBytes receives the next message frame and returns its bytes.
	RecvBytes() ([]byte, error)
	Close() error
}

// Session represents a connection to a peer carrying one control stream.
type Session interface {
	Peer() PeerInfo
	TransportKind() Kind
	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// OpenStream opens (or returns) the session's control stream.
	OpenStream(ctx context.Context) (Stream, error)

	// Close closes the entire session.
	Close() error
}

// Listener accepts inbound sessions.
type Listener interface {
	// Accept blocks until an inbound session is available or ctx is done.
	Accept(ctx context.Context) (Session, error)
	// Addr returns the local listening address.
	Addr() net.Addr
	// Close stops the listener and unblocks Accept.
	Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
	Kind() Kind
	// Listen starts accepting inbound sessions on address.
	Listen(ctx context.Context, address string) (Listener, error)
	// Dial creates an outbound session to a peer/address.
	Dial(ctx context.Context, address string, peer PeerInfo) (Session, error)
}
