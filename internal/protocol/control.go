package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyunomas/pycast/internal/session"
)

// ControlType discriminates the textual control records (§4.1). "data" is
// listed in the spec's glossary as a legacy discriminator and is never
// produced by this implementation; Decode never returns it.
type ControlType string

const (
	ControlMetadata ControlType = "metadata"
	ControlBlockEnd ControlType = "block_end"
	ControlEOF      ControlType = "eof"
	ControlCancel   ControlType = "cancel"
	ControlNack     ControlType = "nack"
)

// Metadata describes the transfer parameters and file descriptor, broadcast
// by the sender before the first data block.
type Metadata struct {
	SessionID         session.ID
	SessionName       string
	FileName          string
	FileSize          int64
	CRC32             uint32
	TotalChunks       int
	ChunkSize         int
	BlockSizePackets  int
	NackListenTimeout time.Duration
	RepairRounds      int
}

// BlockEnd announces that the sender has finished emitting a block's
// initial send (or a repair round) and is waiting for NACKs.
type BlockEnd struct {
	SessionID  session.ID
	BlockIndex int
}

// EOFRecord announces that every block has been confirmed or exhausted its
// repair budget; the receiver should finalize.
type EOFRecord struct {
	SessionID session.ID
}

// CancelRecord announces operator-initiated session cancellation.
type CancelRecord struct {
	SessionID session.ID
}

// Nack is the receiver's unicast report of sequence numbers missing from a
// block.
type Nack struct {
	SessionID  session.ID
	BlockIndex int
	Missing    []uint32
}

type metadataWire struct {
	Type              ControlType `json:"type"`
	SessionID         session.ID  `json:"session_id"`
	SessionName       string      `json:"session_name"`
	FileName          string      `json:"file_name"`
	FileSize          int64       `json:"file_size"`
	CRC32             uint32      `json:"crc32"`
	TotalChunks       int         `json:"total_chunks"`
	ChunkSize         int         `json:"chunk_size"`
	BlockSizePackets  int         `json:"block_size_packets"`
	NackListenTimeout float64     `json:"nack_listen_timeout"`
	RepairRounds      int         `json:"repair_rounds"`
}

type blockEndWire struct {
	Type       ControlType `json:"type"`
	SessionID  session.ID  `json:"session_id"`
	BlockIndex int         `json:"block_index"`
}

type eofWire struct {
	Type      ControlType `json:"type"`
	SessionID session.ID  `json:"session_id"`
}

type cancelWire struct {
	Type      ControlType `json:"type"`
	SessionID session.ID  `json:"session_id"`
}

type nackWire struct {
	Type       ControlType `json:"type"`
	SessionID  session.ID  `json:"session_id"`
	BlockIndex int         `json:"block_index"`
	Missing    []uint32    `json:"missing_seqs"`
}

type typeEnvelope struct {
	Type      ControlType `json:"type"`
	SessionID session.ID  `json:"session_id"`
}

// EncodeMetadata renders a metadata control record.
func EncodeMetadata(m Metadata) ([]byte, error) {
	return json.Marshal(metadataWire{
		Type:              ControlMetadata,
		SessionID:         m.SessionID,
		SessionName:       m.SessionName,
		FileName:          m.FileName,
		FileSize:          m.FileSize,
		CRC32:             m.CRC32,
		TotalChunks:       m.TotalChunks,
		ChunkSize:         m.ChunkSize,
		BlockSizePackets:  m.BlockSizePackets,
		NackListenTimeout: m.NackListenTimeout.Seconds(),
		RepairRounds:      m.RepairRounds,
	})
}

// EncodeBlockEnd renders a block_end control record.
func EncodeBlockEnd(b BlockEnd) ([]byte, error) {
	return json.Marshal(blockEndWire{Type: ControlBlockEnd, SessionID: b.SessionID, BlockIndex: b.BlockIndex})
}

// EncodeEOF renders an eof control record.
func EncodeEOF(sid session.ID) ([]byte, error) {
	return json.Marshal(eofWire{Type: ControlEOF, SessionID: sid})
}

// EncodeCancel renders a cancel control record.
func EncodeCancel(sid session.ID) ([]byte, error) {
	return json.Marshal(cancelWire{Type: ControlCancel, SessionID: sid})
}

// EncodeNack renders a nack control record.
func EncodeNack(n Nack) ([]byte, error) {
	return json.Marshal(nackWire{Type: ControlNack, SessionID: n.SessionID, BlockIndex: n.BlockIndex, Missing: n.Missing})
}

// peekType extracts the discriminator and session id without fully
// decoding the record, so Decode can dispatch and check foreign-session
// before committing to a concrete type.
func peekType(buf []byte) (typeEnvelope, error) {
	var env typeEnvelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	if env.Type == "" {
		return env, ErrMalformedControl
	}
	return env, nil
}

// Packet is the decoded result of Decode: exactly one of the typed fields
// is meaningful, selected by Kind.
type Packet struct {
	Kind     ControlOrData
	Data     DataPacket
	Metadata Metadata
	BlockEnd BlockEnd
	EOF      EOFRecord
	Cancel   CancelRecord
	Nack     Nack
}

// ControlOrData extends ControlType with the binary "data" kind.
type ControlOrData string

const KindData ControlOrData = "data"

// Decode classifies and decodes a single datagram addressed to expected.
// Per §4.1 the binary test runs first: if buf's first 16 bytes equal
// expected's raw bytes and buf is long enough to carry a sequence number,
// it is treated as a data packet unconditionally. Otherwise buf is parsed
// as JSON; a session id mismatch there yields ErrForeignSession so callers
// can drop it silently, and any other decode failure yields
// ErrMalformedControl/ErrTruncated, also meant to be dropped silently per
// the spec's failure semantics.
func Decode(buf []byte, expected session.ID) (Packet, error) {
	if len(buf) < DataPacketHeaderSize {
		return Packet{}, ErrTruncated
	}
	if looksLikeDataPacket(buf, expected) {
		return Packet{Kind: KindData, Data: decodeDataPacket(buf, expected)}, nil
	}

	env, err := peekType(buf)
	if err != nil {
		return Packet{}, err
	}
	if env.SessionID != expected {
		return Packet{}, ErrForeignSession
	}

	switch env.Type {
	case ControlMetadata:
		var w metadataWire
		if err := json.Unmarshal(buf, &w); err != nil {
			return Packet{}, fmt.Errorf("%w: %v", ErrMalformedControl, err)
		}
		return Packet{Kind: ControlOrData(ControlMetadata), Metadata: Metadata{
			SessionID:         w.SessionID,
			SessionName:       w.SessionName,
			FileName:          w.FileName,
			FileSize:          w.FileSize,
			CRC32:             w.CRC32,
			TotalChunks:       w.TotalChunks,
			ChunkSize:         w.ChunkSize,
			BlockSizePackets:  w.BlockSizePackets,
			NackListenTimeout: time.Duration(w.NackListenTimeout * float64(time.Second)),
			RepairRounds:      w.RepairRounds,
		}}, nil
	case ControlBlockEnd:
		var w blockEndWire
		if err := json.Unmarshal(buf, &w); err != nil {
			return Packet{}, fmt.Errorf("%w: %v", ErrMalformedControl, err)
		}
		return Packet{Kind: ControlOrData(ControlBlockEnd), BlockEnd: BlockEnd{SessionID: w.SessionID, BlockIndex: w.BlockIndex}}, nil
	case ControlEOF:
		var w eofWire
		if err := json.Unmarshal(buf, &w); err != nil {
			return Packet{}, fmt.Errorf("%w: %v", ErrMalformedControl, err)
		}
		return Packet{Kind: ControlOrData(ControlEOF), EOF: EOFRecord{SessionID: w.SessionID}}, nil
	case ControlCancel:
		var w cancelWire
		if err := json.Unmarshal(buf, &w); err != nil {
			return Packet{}, fmt.Errorf("%w: %v", ErrMalformedControl, err)
		}
		return Packet{Kind: ControlOrData(ControlCancel), Cancel: CancelRecord{SessionID: w.SessionID}}, nil
	case ControlNack:
		var w nackWire
		if err := json.Unmarshal(buf, &w); err != nil {
			return Packet{}, fmt.Errorf("%w: %v", ErrMalformedControl, err)
		}
		return Packet{Kind: ControlOrData(ControlNack), Nack: Nack{SessionID: w.SessionID, BlockIndex: w.BlockIndex, Missing: w.Missing}}, nil
	default:
		return Packet{}, ErrUnknownControlType
	}
}
