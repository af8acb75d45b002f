package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame types carried in the header.
const (
	MsgUnknown uint8 = iota
	MsgRequestList
	MsgResponseList
)

// Fixed header layout (24 bytes) for fast parsing over any channel.
// All integer fields are little-endian.
//
//  0  ..1   Magic  'H''V' (0x4856)
//  2        Version u8
//  3        Type    u8
//  4  ..7   Rank    u32
//  8  ..15  Round   u64
//  16 ..19  PayloadLen u32
//  20 ..23  Reserved u32
const (
	headerSize = 24
	magicWord  = uint16(0x4856) // 'H''V'

	// Version of the framing; bumped only on incompatible header changes.
	WireVersion = 1
)

// Header describes metadata for one negotiation frame.
type Header struct {
	Version    uint8
	Type       uint8
	Rank       uint32
	Round      uint64
	PayloadLen uint32
}

// MarshalBinary encodes the header to a 24-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(buf[0:2], magicWord)
	buf[2] = h.Version
	buf[3] = h.Type
	binary.LittleEndian.PutUint32(buf[4:8], h.Rank)
	binary.LittleEndian.PutUint64(buf[8:16], h.Round)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLen)
	// 20..23 reserved stays zero
	return buf, nil
}

// UnmarshalBinary decodes the header from a 24-byte buffer.
func (h *Header) UnmarshalBinary(buf []byte) error {
	if len(buf) < headerSize {
		return errors.New("short header")
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != magicWord {
		return errors.New("bad magic")
	}
	if buf[2] != WireVersion {
		return fmt.Errorf("unsupported header version %d", buf[2])
	}
	h.Version = buf[2]
	h.Type = buf[3]
	h.Rank = binary.LittleEndian.Uint32(buf[4:8])
	h.Round = binary.LittleEndian.Uint64(buf[8:16])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
	return nil
}
