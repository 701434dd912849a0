package protocol

import (
	"encoding/binary"

	"github.com/soyunomas/pycast/internal/session"
)

// DataPacketHeaderSize is the on-wire header preceding a data packet's
// payload: 16 bytes session id + 4 bytes big-endian sequence number.
const DataPacketHeaderSize = 16 + 4

// DataPacket is a single chunk on the wire: bytes [0..16) session id, bytes
// [16..20) big-endian sequence number, bytes [20..) payload (at most
// chunk_size bytes; the final chunk's payload may be shorter).
type DataPacket struct {
	SessionID session.ID
	Seq       uint32
	Payload   []byte
}

// EncodeDataPacket renders a data packet to its wire form. The returned
// slice is newly allocated and safe to reuse by the caller after the send
// call returns.
func EncodeDataPacket(sid session.ID, seq uint32, payload []byte) []byte {
	buf := make([]byte, DataPacketHeaderSize+len(payload))
	copy(buf[0:16], sid[:])
	binary.BigEndian.PutUint32(buf[16:20], seq)
	copy(buf[20:], payload)
	return buf
}

// decodeDataPacket assumes the binary classification in Decode has already
// matched buf's session-id prefix; it only needs to split off the sequence
// number and payload.
func decodeDataPacket(buf []byte, sid session.ID) DataPacket {
	seq := binary.BigEndian.Uint32(buf[16:20])
	payload := make([]byte, len(buf)-DataPacketHeaderSize)
	copy(payload, buf[20:])
	return DataPacket{SessionID: sid, Seq: seq, Payload: payload}
}

// looksLikeDataPacket reports whether buf's first 16 bytes equal expected
// and buf is long enough to carry a sequence number. Per spec §4.1 this
// binary test is attempted before any textual decode, so that a legitimate
// data packet is never misrouted through the control-record path.
func looksLikeDataPacket(buf []byte, expected session.ID) bool {
	if len(buf) < DataPacketHeaderSize {
		return false
	}
	for i := 0; i < 16; i++ {
		if buf[i] != expected[i] {
			return false
		}
	}
	return true
}
