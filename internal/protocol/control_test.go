package protocol

import (
	"testing"
	"time"

	"github.com/soyunomas/pycast/internal/session"
)

func TestMetadataRoundTrip(t *testing.T) {
	sid := testSessionID(t)
	m := Metadata{
		SessionID:         sid,
		SessionName:       "movie-night",
		FileName:          "movie.mkv",
		FileSize:          123456,
		CRC32:             0xdeadbeef,
		TotalChunks:       42,
		ChunkSize:         4096,
		BlockSizePackets:  256,
		NackListenTimeout: 2500 * time.Millisecond,
		RepairRounds:      3,
	}
	wire, err := EncodeMetadata(m)
	if err != nil {
		t.Fatalf("EncodeMetadata: %v", err)
	}
	pkt, err := Decode(wire, sid)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.Kind != ControlOrData(ControlMetadata) {
		t.Fatalf("Kind = %v, want metadata", pkt.Kind)
	}
	got := pkt.Metadata
	if got.SessionName != m.SessionName || got.FileName != m.FileName || got.FileSize != m.FileSize ||
		got.CRC32 != m.CRC32 || got.TotalChunks != m.TotalChunks || got.ChunkSize != m.ChunkSize ||
		got.BlockSizePackets != m.BlockSizePackets || got.RepairRounds != m.RepairRounds {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
	if got.NackListenTimeout != m.NackListenTimeout {
		t.Fatalf("NackListenTimeout = %v, want %v", got.NackListenTimeout, m.NackListenTimeout)
	}
}

func TestBlockEndEOFCancelRoundTrip(t *testing.T) {
	sid := testSessionID(t)

	beWire, err := EncodeBlockEnd(BlockEnd{SessionID: sid, BlockIndex: 7})
	if err != nil {
		t.Fatalf("EncodeBlockEnd: %v", err)
	}
	pkt, err := Decode(beWire, sid)
	if err != nil {
		t.Fatalf("Decode block_end: %v", err)
	}
	if pkt.Kind != ControlOrData(ControlBlockEnd) || pkt.BlockEnd.BlockIndex != 7 {
		t.Fatalf("block_end round trip mismatch: %+v", pkt)
	}

	eofWireBytes, err := EncodeEOF(sid)
	if err != nil {
		t.Fatalf("EncodeEOF: %v", err)
	}
	pkt, err = Decode(eofWireBytes, sid)
	if err != nil {
		t.Fatalf("Decode eof: %v", err)
	}
	if pkt.Kind != ControlOrData(ControlEOF) {
		t.Fatalf("eof round trip mismatch: %+v", pkt)
	}

	cancelWireBytes, err := EncodeCancel(sid)
	if err != nil {
		t.Fatalf("EncodeCancel: %v", err)
	}
	pkt, err = Decode(cancelWireBytes, sid)
	if err != nil {
		t.Fatalf("Decode cancel: %v", err)
	}
	if pkt.Kind != ControlOrData(ControlCancel) {
		t.Fatalf("cancel round trip mismatch: %+v", pkt)
	}
}

func TestNackRoundTrip(t *testing.T) {
	sid := testSessionID(t)
	n := Nack{SessionID: sid, BlockIndex: 3, Missing: []uint32{3, 7, 19, 41}}
	wire, err := EncodeNack(n)
	if err != nil {
		t.Fatalf("EncodeNack: %v", err)
	}
	pkt, err := Decode(wire, sid)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.Kind != ControlOrData(ControlNack) || pkt.Nack.BlockIndex != 3 {
		t.Fatalf("nack round trip mismatch: %+v", pkt)
	}
	if len(pkt.Nack.Missing) != 4 {
		t.Fatalf("Missing = %v, want 4 entries", pkt.Nack.Missing)
	}
}

func TestForeignSessionControlRecordDropped(t *testing.T) {
	sid := testSessionID(t)
	other := testSessionID(t)

	wire, err := EncodeEOF(other)
	if err != nil {
		t.Fatalf("EncodeEOF: %v", err)
	}
	_, err = Decode(wire, sid)
	if err != ErrForeignSession {
		t.Fatalf("Decode = %v, want ErrForeignSession", err)
	}
}

func TestMalformedControlRecordDropped(t *testing.T) {
	sid := testSessionID(t)
	_, err := Decode([]byte("not json and too long to look like a data header!!"), sid)
	if err == nil {
		t.Fatal("expected decode error for malformed control record")
	}
}

func TestUnknownControlTypeRejected(t *testing.T) {
	sid := testSessionID(t)
	raw := []byte(`{"type":"frobnicate","session_id":"` + sid.String() + `"}`)
	_, err := Decode(raw, sid)
	if err != ErrUnknownControlType {
		t.Fatalf("Decode = %v, want ErrUnknownControlType", err)
	}
}

func TestSessionIDJSONRoundTrip(t *testing.T) {
	sid := testSessionID(t)
	var parsed session.ID
	data, err := sid.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if err := parsed.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if parsed != sid {
		t.Fatalf("round trip mismatch")
	}
}
