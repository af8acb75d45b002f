package protocol

import (
	"bytes"
	"io"
	"testing"
)

func sampleBatch() RequestList {
	return RequestList{Requests: []Request{{
		RequestRank: 3,
		Type:        RequestAllreduce,
		TensorType:  TypeFloat16,
		Device:      -1,
		TensorName:  "grad/conv.2",
		TensorShape: []int64{3, 3, 64},
	}}}
}

func TestHeaderRoundtrip(t *testing.T) {
	h := Header{Version: WireVersion, Type: MsgRequestList, Rank: 7, Round: 42, PayloadLen: 100}
	b, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(b) != headerSize {
		t.Fatalf("header is %d bytes, want %d", len(b), headerSize)
	}
	var out Header
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != h {
		t.Fatalf("roundtrip mismatch: %+v != %+v", out, h)
	}
}

func TestHeaderRejectsBadMagic(t *testing.T) {
	h := Header{Version: WireVersion, Type: MsgRequestList}
	b, _ := h.MarshalBinary()
	b[0] ^= 0xff
	var out Header
	if err := out.UnmarshalBinary(b); err == nil {
		t.Fatal("want error for corrupted magic")
	}
}

func TestHeaderRejectsUnknownVersion(t *testing.T) {
	h := Header{Version: WireVersion, Type: MsgResponseList}
	b, _ := h.MarshalBinary()
	b[2] = WireVersion + 1
	var out Header
	if err := out.UnmarshalBinary(b); err == nil {
		t.Fatal("want error for unknown header version")
	}
}

func TestHeaderRejectsShortBuffer(t *testing.T) {
	var out Header
	if err := out.UnmarshalBinary(make([]byte, headerSize-1)); err == nil {
		t.Fatal("want error for short buffer")
	}
}

func TestEnvelopeFrameRoundtrip(t *testing.T) {
	batch := sampleBatch()
	env, err := NewEnvelope(MsgRequestList, 3, 9, &batch)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	frame, err := env.EncodeFrame()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var got Envelope
	if err := got.DecodeFrame(frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Header.Type != MsgRequestList || got.Header.Rank != 3 || got.Header.Round != 9 {
		t.Fatalf("header mangled: %+v", got.Header)
	}
	var out RequestList
	if err := out.UnmarshalBinary(got.Payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if out.Requests[0].TensorName != "grad/conv.2" {
		t.Fatalf("payload mangled: %+v", out)
	}
}

func TestEnvelopeStreamRoundtrip(t *testing.T) {
	batch := sampleBatch()
	env, err := NewEnvelope(MsgRequestList, 0, 1, &batch)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}

	var buf bytes.Buffer
	if _, err := env.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got Envelope
	if _, err := got.ReadFrom(&buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got.Payload, env.Payload) {
		t.Fatal("payload mismatch after stream roundtrip")
	}
}

func TestDecodeFrameTruncatedPayload(t *testing.T) {
	batch := sampleBatch()
	env, _ := NewEnvelope(MsgRequestList, 0, 1, &batch)
	frame, _ := env.EncodeFrame()

	var got Envelope
	if err := got.DecodeFrame(frame[:len(frame)-1]); err != io.ErrUnexpectedEOF {
		t.Fatalf("want ErrUnexpectedEOF, got %v", err)
	}
	if err := got.DecodeFrame(frame[:headerSize-4]); err != io.ErrUnexpectedEOF {
		t.Fatalf("want ErrUnexpectedEOF, got %v", err)
	}
}

func TestEnvelopeEmptyPayload(t *testing.T) {
	list := RequestList{Shutdown: false}
	env, err := NewEnvelope(MsgRequestList, 1, 5, &list)
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	frame, err := env.EncodeFrame()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frame) != headerSize {
		t.Fatalf("empty payload frame is %d bytes, want %d", len(frame), headerSize)
	}
	var got Envelope
	if err := got.DecodeFrame(frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("payload should be empty, got %d bytes", len(got.Payload))
	}
}
