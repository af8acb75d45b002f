// Package factory constructs transports by configured kind.
package factory

import (
	"fmt"
	"strings"

	"github.com/arnoldhuanghk/horovod/pkg/transport"
	"github.com/arnoldhuanghk/horovod/pkg/transport/mem"
	"github.com/arnoldhuanghk/horovod/pkg/transport/quic"
	"github.com/arnoldhuanghk/horovod/pkg/transport/tcp"
)

// NewByKind returns a transport for the given kind string: tcp|quic|mem.
func NewByKind(kind string) (transport.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "tcp":
		return tcp.New(), nil
	case "quic":
		return quic.New(), nil
	case "mem":
		return mem.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}
