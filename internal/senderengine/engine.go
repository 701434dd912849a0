// Package senderengine drives the sender side of a transfer: broadcast
// metadata, emit every chunk of every block over multicast, collect NACKs
// over the unicast back-channel, retransmit for a bounded number of repair
// rounds, then announce EOF. Block loop and repair-round shape follow spec
// §4.4; inter-packet pacing is grounded on the teacher's
// internal/agent/throttle.go token-bucket writer.
package senderengine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/soyunomas/pycast/internal/config"
	"github.com/soyunomas/pycast/internal/integrity"
	"github.com/soyunomas/pycast/internal/mcastnet"
	"github.com/soyunomas/pycast/internal/metrics"
	"github.com/soyunomas/pycast/internal/protocol"
	"github.com/soyunomas/pycast/internal/session"
)

const (
	// interPacketDelay paces the data-packet send loop; sub-millisecond,
	// matching spec §4.4's "sub-ms" pacing guidance and the teacher's own
	// ThrottledWriter approach of spacing writes with a rate.Limiter
	// rather than sending a whole block in a tight loop.
	interPacketDelay = 200 * time.Microsecond

	blockEndRepeats      = 2
	blockEndSpacing      = 10 * time.Millisecond
	eofRepeats           = 5
	eofSpacing           = 100 * time.Millisecond
	metadataRepeats      = 3
	metadataSpacing      = 100 * time.Millisecond
	cancelRepeats        = 3
	cancelSpacing        = 20 * time.Millisecond
	multicastTTL         = 1
	nackSocketReadBuffer = 1500
)

// BlockProgress reports confirmation state for one block after its repair
// rounds are finished, for the status/progress channel described in spec §9.
type BlockProgress struct {
	BlockIndex    int
	Confirmed     bool // true if every packet in the block was eventually confirmed
	RepairRounds  int  // repair rounds actually spent
	MissingAtStop int  // count still missing if repair budget ran out
}

// Engine sends one file to one session's multicast group.
type Engine struct {
	sid    session.ID
	params session.TransferParams
	file   *os.File
	desc   session.FileDescriptor

	dataConn *net.UDPConn
	nackConn *net.UDPConn

	logger *slog.Logger

	// OnBlockDone, if set, is invoked synchronously after each block's
	// repair rounds conclude. It must not block for long: the sender
	// loop waits for it to return before moving to the next block.
	OnBlockDone func(BlockProgress)

	// Metrics, if set, receives live counters for the /metrics endpoint:
	// total blocks, NACKs received, and bytes transferred.
	Metrics *metrics.SessionCollector
}

// New opens filePath, computes its size and CRC-32, and binds the sender's
// multicast and NACK sockets. The returned Engine is ready for Run.
func New(cfg *config.SenderConfig, sid session.ID, filePath string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("senderengine: opening %s: %w", filePath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("senderengine: stat %s: %w", filePath, err)
	}
	size := info.Size()

	sum, err := integrity.ChecksumFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("senderengine: checksumming %s: %w", filePath, err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("senderengine: rewinding %s: %w", filePath, err)
	}

	chunkSize := int(cfg.Transfer.ChunkSizeRaw)
	totalChunks := int((size + int64(chunkSize) - 1) / int64(chunkSize))

	params := session.TransferParams{
		ChunkSize:         chunkSize,
		BlockSizePackets:  cfg.Transfer.BlockSizePackets,
		NackListenTimeout: cfg.Transfer.NackListenTimeout,
		RepairRounds:      cfg.Transfer.RepairRounds,
	}

	dataConn, err := mcastnet.DialMulticastSender(cfg.Network.MulticastGroup, cfg.Network.MulticastPort, multicastTTL)
	if err != nil {
		f.Close()
		return nil, err
	}

	nackConn, err := mcastnet.ListenUnicast(cfg.Network.NackPort)
	if err != nil {
		dataConn.Close()
		f.Close()
		return nil, err
	}

	return &Engine{
		sid:    sid,
		params: params,
		file:   f,
		desc: session.FileDescriptor{
			Name:        filePath,
			Size:        size,
			CRC32:       sum,
			TotalChunks: totalChunks,
		},
		dataConn: dataConn,
		nackConn: nackConn,
		logger:   logger.With("session_id", sid.String()),
	}, nil
}

// Close releases the file handle and both sockets.
func (e *Engine) Close() error {
	e.nackConn.Close()
	e.dataConn.Close()
	return e.file.Close()
}

// Run broadcasts metadata, transmits every block with NACK-driven repair,
// and announces EOF. It returns early with ctx.Err() if ctx is cancelled,
// having first announced cancellation to the group.
func (e *Engine) Run(ctx context.Context, sessionName string) error {
	if err := e.broadcastMetadata(sessionName); err != nil {
		return err
	}

	totalBlocks := e.params.TotalBlocks(e.desc.TotalChunks)
	if e.Metrics != nil {
		e.Metrics.SetBlocksTotal(totalBlocks)
	}
	for block := 0; block < totalBlocks; block++ {
		select {
		case <-ctx.Done():
			e.announceCancel()
			return ctx.Err()
		default:
		}

		progress, err := e.runBlock(ctx, block)
		if err != nil {
			e.announceCancel()
			return err
		}
		if e.OnBlockDone != nil {
			e.OnBlockDone(progress)
		}
	}

	return e.announceEOF()
}

func (e *Engine) broadcastMetadata(sessionName string) error {
	payload, err := protocol.EncodeMetadata(protocol.Metadata{
		SessionID:         e.sid,
		SessionName:       sessionName,
		FileName:          e.desc.Name,
		FileSize:          e.desc.Size,
		CRC32:             e.desc.CRC32,
		TotalChunks:       e.desc.TotalChunks,
		ChunkSize:         e.params.ChunkSize,
		BlockSizePackets:  e.params.BlockSizePackets,
		NackListenTimeout: e.params.NackListenTimeout,
		RepairRounds:      e.params.RepairRounds,
	})
	if err != nil {
		return fmt.Errorf("senderengine: encoding metadata: %w", err)
	}

	for i := 0; i < metadataRepeats; i++ {
		if _, err := e.dataConn.Write(payload); err != nil {
			return fmt.Errorf("senderengine: broadcasting metadata: %w", err)
		}
		if i < metadataRepeats-1 {
			time.Sleep(metadataSpacing)
		}
	}
	e.logger.Info("metadata broadcast", "file", e.desc.Name, "size", e.desc.Size, "total_chunks", e.desc.TotalChunks)
	return nil
}

// runBlock sends every packet in the block, then runs up to RepairRounds
// rounds of block_end + NACK collection + selective retransmit.
func (e *Engine) runBlock(ctx context.Context, block int) (BlockProgress, error) {
	start, end := e.params.BlockRange(block, e.desc.TotalChunks)

	if err := e.sendRange(ctx, start, end); err != nil {
		return BlockProgress{}, err
	}

	var lastMissing map[uint32]struct{}

	round := 0
	for ; round < e.params.RepairRounds; round++ {
		select {
		case <-ctx.Done():
			return BlockProgress{}, ctx.Err()
		default:
		}

		if err := e.announceBlockEnd(block); err != nil {
			return BlockProgress{}, err
		}

		// collectNacks reports, per round, what the receiver(s) still
		// lack for this block; it is authoritative for what to resend.
		reported := e.collectNacks(block)
		if len(reported) == 0 {
			lastMissing = nil
			break
		}

		lastMissing = make(map[uint32]struct{}, len(reported))
		for _, seq := range reported {
			lastMissing[seq] = struct{}{}
		}

		if err := e.retransmit(ctx, block, lastMissing); err != nil {
			return BlockProgress{}, err
		}
	}

	if len(lastMissing) > 0 {
		e.logger.Warn("repair rounds exhausted, advancing with block unconfirmed", "block", block, "missing", len(lastMissing))
	}

	return BlockProgress{
		BlockIndex:    block,
		Confirmed:     len(lastMissing) == 0,
		RepairRounds:  round,
		MissingAtStop: len(lastMissing),
	}, nil
}

func (e *Engine) sendRange(ctx context.Context, start, end int) error {
	limiter := rate.NewLimiter(rate.Every(interPacketDelay), 1)
	buf := make([]byte, e.params.ChunkSize)

	for seq := start; seq < end; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		n, err := e.file.ReadAt(buf, int64(seq)*int64(e.params.ChunkSize))
		if err != nil && n == 0 {
			return fmt.Errorf("senderengine: reading chunk %d: %w", seq, err)
		}

		packet := protocol.EncodeDataPacket(e.sid, uint32(seq), buf[:n])
		if _, err := e.dataConn.Write(packet); err != nil {
			return fmt.Errorf("senderengine: sending chunk %d: %w", seq, err)
		}
		if e.Metrics != nil {
			e.Metrics.AddBytesTransferred(int64(n))
		}
	}
	return nil
}

func (e *Engine) retransmit(ctx context.Context, block int, missing map[uint32]struct{}) error {
	limiter := rate.NewLimiter(rate.Every(interPacketDelay), 1)
	buf := make([]byte, e.params.ChunkSize)

	for seq := range missing {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		n, err := e.file.ReadAt(buf, int64(seq)*int64(e.params.ChunkSize))
		if err != nil && n == 0 {
			return fmt.Errorf("senderengine: re-reading chunk %d: %w", seq, err)
		}

		packet := protocol.EncodeDataPacket(e.sid, seq, buf[:n])
		if _, err := e.dataConn.Write(packet); err != nil {
			return fmt.Errorf("senderengine: retransmitting chunk %d: %w", seq, err)
		}
		if e.Metrics != nil {
			e.Metrics.AddBytesTransferred(int64(n))
		}
	}
	return nil
}

func (e *Engine) announceBlockEnd(block int) error {
	payload, err := protocol.EncodeBlockEnd(protocol.BlockEnd{SessionID: e.sid, BlockIndex: block})
	if err != nil {
		return fmt.Errorf("senderengine: encoding block_end: %w", err)
	}
	for i := 0; i < blockEndRepeats; i++ {
		if _, err := e.dataConn.Write(payload); err != nil {
			return fmt.Errorf("senderengine: announcing block_end: %w", err)
		}
		if i < blockEndRepeats-1 {
			time.Sleep(blockEndSpacing)
		}
	}
	return nil
}

// collectNacks listens on the unicast NACK socket for
// params.NackListenTimeout and returns the union of missing sequence
// numbers reported for block, ignoring anything for another block or
// session.
func (e *Engine) collectNacks(block int) []uint32 {
	deadline := time.Now().Add(e.params.NackListenTimeout)
	seen := map[uint32]struct{}{}
	buf := make([]byte, nackSocketReadBuffer)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		e.nackConn.SetReadDeadline(time.Now().Add(remaining))

		n, _, err := e.nackConn.ReadFromUDP(buf)
		if err != nil {
			break
		}

		pkt, err := protocol.Decode(buf[:n], e.sid)
		if err != nil || pkt.Kind != protocol.ControlOrData(protocol.ControlNack) {
			continue
		}
		if pkt.Nack.BlockIndex != block {
			continue
		}
		if e.Metrics != nil {
			e.Metrics.RecordNack(len(pkt.Nack.Missing))
		}
		for _, seq := range pkt.Nack.Missing {
			seen[seq] = struct{}{}
		}
	}

	out := make([]uint32, 0, len(seen))
	for seq := range seen {
		out = append(out, seq)
	}
	return out
}

func (e *Engine) announceEOF() error {
	payload, err := protocol.EncodeEOF(e.sid)
	if err != nil {
		return fmt.Errorf("senderengine: encoding eof: %w", err)
	}
	for i := 0; i < eofRepeats; i++ {
		if _, err := e.dataConn.Write(payload); err != nil {
			return fmt.Errorf("senderengine: announcing eof: %w", err)
		}
		if i < eofRepeats-1 {
			time.Sleep(eofSpacing)
		}
	}
	e.logger.Info("eof announced")
	return nil
}

func (e *Engine) announceCancel() {
	payload, err := protocol.EncodeCancel(e.sid)
	if err != nil {
		e.logger.Warn("encoding cancel record", "error", err)
		return
	}
	for i := 0; i < cancelRepeats; i++ {
		if _, err := e.dataConn.Write(payload); err != nil {
			e.logger.Warn("announcing cancel", "error", err)
			return
		}
		if i < cancelRepeats-1 {
			time.Sleep(cancelSpacing)
		}
	}
	e.logger.Info("cancel announced")
}
