// Package receiverengine drives the receiver side of a transfer: join the
// multicast group, write confirmed chunks directly to a temp file at their
// computed offset, track per-block gaps, and NACK them on block_end. The
// gap-tracking idea is grounded on the teacher's internal/server/
// gap_tracker.go (received-set bookkeeping), simplified because a block's
// boundary — not a persistence timeout — is what triggers a NACK here (spec
// §4.5 ties NACKing to block_end, not to a free-running timer).
package receiverengine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/soyunomas/pycast/internal/config"
	"github.com/soyunomas/pycast/internal/integrity"
	"github.com/soyunomas/pycast/internal/mcastnet"
	"github.com/soyunomas/pycast/internal/metrics"
	"github.com/soyunomas/pycast/internal/protocol"
	"github.com/soyunomas/pycast/internal/session"
)

const readBufferSize = 2048

// Result is what Run returns on success: the final on-disk path and the
// file descriptor the sender advertised.
type Result struct {
	FinalPath string
	Desc      session.FileDescriptor
}

// ErrIntegrityMismatch is returned when the reassembled file's CRC-32
// doesn't match the sender-advertised checksum at EOF.
var ErrIntegrityMismatch = fmt.Errorf("receiverengine: checksum mismatch at eof")

// ErrCancelled is returned when the sender announces cancellation before
// EOF.
var ErrCancelled = fmt.Errorf("receiverengine: session cancelled by sender")

// BlockStatus reports one block_end observation, for the status/progress
// channel described in spec §9.
type BlockStatus struct {
	BlockIndex int
	Missing    int
}

// Engine receives one file for one session.
type Engine struct {
	sid     session.ID
	destDir string

	dataConn *net.UDPConn
	nackConn *net.UDPConn
	nackPort int

	logger *slog.Logger

	// OnBlockEnd, if set, is invoked synchronously after each block_end is
	// processed.
	OnBlockEnd func(BlockStatus)

	// Metrics, if set, receives live counters for the /metrics endpoint:
	// total blocks, NACKs sent, and bytes written.
	Metrics *metrics.SessionCollector

	params     session.TransferParams
	desc       session.FileDescriptor
	haveParams bool

	tempFile   *os.File
	tempPath   string
	finalName  string
	received   []bool
	senderAddr *net.UDPAddr
}

// New joins the session's multicast group and binds a unicast socket for
// sending NACKs.
func New(cfg *config.ReceiverConfig, sid session.ID, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dataConn, err := mcastnet.ListenMulticastReceiver(cfg.Network.MulticastGroup, cfg.Network.MulticastPort, "")
	if err != nil {
		return nil, err
	}

	nackConn, err := mcastnet.ListenUnicast(0)
	if err != nil {
		dataConn.Close()
		return nil, err
	}

	return &Engine{
		sid:      sid,
		destDir:  cfg.Destination.Dir,
		dataConn: dataConn,
		nackConn: nackConn,
		nackPort: cfg.Network.NackPort,
		logger:   logger.With("session_id", sid.String()),
	}, nil
}

// Close releases both sockets and any still-open temp file.
func (e *Engine) Close() error {
	e.nackConn.Close()
	e.dataConn.Close()
	if e.tempFile != nil {
		return e.tempFile.Close()
	}
	return nil
}

// Run blocks until EOF, cancellation, or ctx is done, writing the file into
// destDir as it goes.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-ctx.Done():
			e.abort()
			return Result{}, ctx.Err()
		default:
		}

		e.dataConn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := e.dataConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			e.abort()
			return Result{}, fmt.Errorf("receiverengine: reading datagram: %w", err)
		}

		if e.senderAddr == nil || !e.senderAddr.IP.Equal(addr.IP) {
			e.senderAddr = &net.UDPAddr{IP: addr.IP, Port: e.nackPort}
		}

		pkt, err := protocol.Decode(buf[:n], e.sid)
		if err != nil {
			continue // foreign session or malformed: drop silently per spec
		}

		switch pkt.Kind {
		case protocol.ControlOrData(protocol.ControlMetadata):
			if err := e.handleMetadata(pkt.Metadata); err != nil {
				e.abort()
				return Result{}, err
			}
		case protocol.KindData:
			e.handleData(pkt.Data)
		case protocol.ControlOrData(protocol.ControlBlockEnd):
			e.handleBlockEnd(pkt.BlockEnd)
		case protocol.ControlOrData(protocol.ControlEOF):
			return e.finalize()
		case protocol.ControlOrData(protocol.ControlCancel):
			e.abort()
			return Result{}, ErrCancelled
		}
	}
}

func (e *Engine) handleMetadata(m protocol.Metadata) error {
	if e.haveParams {
		return nil // duplicate of a repeated broadcast; already set up
	}

	e.params = session.TransferParams{
		ChunkSize:         m.ChunkSize,
		BlockSizePackets:  m.BlockSizePackets,
		NackListenTimeout: m.NackListenTimeout,
		RepairRounds:      m.RepairRounds,
	}
	e.desc = session.FileDescriptor{
		Name:        m.FileName,
		Size:        m.FileSize,
		CRC32:       m.CRC32,
		TotalChunks: m.TotalChunks,
	}

	base, err := sanitizeFileName(m.FileName)
	if err != nil {
		return err
	}
	e.finalName = base
	e.tempPath = filepath.Join(e.destDir, "."+base+".pycast-tmp")
	if err := validatePathInDestDir(e.destDir, e.tempPath); err != nil {
		return err
	}

	f, err := os.Create(e.tempPath)
	if err != nil {
		return fmt.Errorf("receiverengine: creating temp file: %w", err)
	}
	if m.FileSize > 0 {
		if err := f.Truncate(m.FileSize); err != nil {
			f.Close()
			return fmt.Errorf("receiverengine: preallocating temp file: %w", err)
		}
	}

	e.tempFile = f
	e.received = make([]bool, m.TotalChunks)
	e.haveParams = true
	if e.Metrics != nil {
		e.Metrics.SetBlocksTotal(e.params.TotalBlocks(e.desc.TotalChunks))
	}

	e.logger.Info("metadata received", "file", e.desc.Name, "size", e.desc.Size, "total_chunks", e.desc.TotalChunks)
	return nil
}

func (e *Engine) handleData(d protocol.DataPacket) {
	if !e.haveParams || int(d.Seq) >= len(e.received) {
		return
	}
	if e.received[d.Seq] {
		return
	}
	if _, err := e.tempFile.WriteAt(d.Payload, int64(d.Seq)*int64(e.params.ChunkSize)); err != nil {
		e.logger.Warn("writing chunk", "seq", d.Seq, "error", err)
		return
	}
	e.received[d.Seq] = true
	if e.Metrics != nil {
		e.Metrics.AddBytesTransferred(int64(len(d.Payload)))
	}
}

func (e *Engine) handleBlockEnd(b protocol.BlockEnd) {
	if !e.haveParams {
		return
	}
	start, end := e.params.BlockRange(b.BlockIndex, e.desc.TotalChunks)

	var missing []uint32
	for seq := start; seq < end; seq++ {
		if !e.received[seq] {
			missing = append(missing, uint32(seq))
		}
	}

	if e.OnBlockEnd != nil {
		e.OnBlockEnd(BlockStatus{BlockIndex: b.BlockIndex, Missing: len(missing)})
	}

	if len(missing) == 0 {
		return
	}
	e.sendNack(b.BlockIndex, missing)
}

func (e *Engine) sendNack(blockIndex int, missing []uint32) {
	if e.senderAddr == nil {
		return
	}
	payload, err := protocol.EncodeNack(protocol.Nack{SessionID: e.sid, BlockIndex: blockIndex, Missing: missing})
	if err != nil {
		e.logger.Warn("encoding nack", "error", err)
		return
	}
	if _, err := e.nackConn.WriteToUDP(payload, e.senderAddr); err != nil {
		e.logger.Warn("sending nack", "error", err)
		return
	}
	if e.Metrics != nil {
		e.Metrics.RecordNack(len(missing))
	}
}

func (e *Engine) finalize() (Result, error) {
	if !e.haveParams {
		return Result{}, fmt.Errorf("receiverengine: eof before metadata")
	}

	if _, err := e.tempFile.Seek(0, 0); err != nil {
		return Result{}, fmt.Errorf("receiverengine: seeking temp file: %w", err)
	}
	sum, err := integrity.ChecksumFile(e.tempFile)
	if err != nil {
		return Result{}, fmt.Errorf("receiverengine: checksumming temp file: %w", err)
	}
	e.tempFile.Close()
	e.tempFile = nil

	if sum != e.desc.CRC32 {
		os.Remove(e.tempPath)
		return Result{}, ErrIntegrityMismatch
	}

	finalPath := filepath.Join(e.destDir, e.finalName)
	if err := os.Rename(e.tempPath, finalPath); err != nil {
		return Result{}, fmt.Errorf("receiverengine: renaming to final path: %w", err)
	}

	e.logger.Info("transfer complete", "path", finalPath)
	return Result{FinalPath: finalPath, Desc: e.desc}, nil
}

func (e *Engine) abort() {
	if e.tempFile != nil {
		e.tempFile.Close()
		e.tempFile = nil
	}
	if e.tempPath != "" {
		os.Remove(e.tempPath)
	}
}
