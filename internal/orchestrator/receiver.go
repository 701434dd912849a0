package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/soyunomas/pycast/internal/config"
	"github.com/soyunomas/pycast/internal/lobby"
	"github.com/soyunomas/pycast/internal/metrics"
	"github.com/soyunomas/pycast/internal/receiverengine"
	"github.com/soyunomas/pycast/internal/session"
)

// ReceiverRun holds everything a caller needs to observe and wait on a
// receiver lifecycle started with RunReceiver.
type ReceiverRun struct {
	Events    <-chan StatusEvent
	Collector *metrics.SessionCollector

	done   chan error
	result chan receiverengine.Result
}

// Wait blocks until the transfer finishes and returns its Result or the
// terminal error.
func (r *ReceiverRun) Wait() (receiverengine.Result, error) {
	err := <-r.done
	if err != nil {
		return receiverengine.Result{}, err
	}
	return <-r.result, nil
}

// RunReceiver joins the handshake named by desc (dialing senderHost:desc.
// HandshakePort), then joins the multicast group and writes the incoming
// file into cfg.Destination.Dir. It returns immediately; progress is
// observed on ReceiverRun.Events and the terminal outcome via Wait.
func RunReceiver(ctx context.Context, cfg *config.ReceiverConfig, desc session.Descriptor, senderHost, username string, logger *slog.Logger) (*ReceiverRun, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", desc.ID.String())

	handshakeAddr := net.JoinHostPort(senderHost, strconv.Itoa(desc.HandshakePort))
	if err := lobby.Join(handshakeAddr, desc.ID, username, cfg.Handshake.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("orchestrator: handshake: %w", err)
	}

	engine, err := receiverengine.New(cfg, desc.ID, logger)
	if err != nil {
		return nil, err
	}

	var collector *metrics.SessionCollector
	if cfg.Metrics.Enabled {
		collector = metrics.NewSessionCollector(desc.ID)
		metricsSrv, err := metrics.NewServer(cfg.Metrics.Listen, collector)
		if err != nil {
			engine.Close()
			return nil, fmt.Errorf("orchestrator: starting metrics server: %w", err)
		}
		go metricsSrv.Run(ctx)
	}
	engine.Metrics = collector

	bus := newStatusBus()
	run := &ReceiverRun{Events: bus.events(), Collector: collector, done: make(chan error, 1), result: make(chan receiverengine.Result, 1)}

	engine.OnBlockEnd = func(s receiverengine.BlockStatus) {
		kind := EventBlockConfirmed
		if s.Missing > 0 {
			kind = EventBlockIncomplete
		}
		bus.publish(StatusEvent{Kind: kind, BlockIndex: s.BlockIndex, MissingCount: s.Missing})
	}

	go func() {
		defer engine.Close()
		defer bus.close()

		result, runErr := engine.Run(ctx)
		switch {
		case runErr == nil:
			bus.publish(StatusEvent{Kind: EventEOF})
		case errors.Is(runErr, receiverengine.ErrCancelled):
			bus.publish(StatusEvent{Kind: EventCancelled})
		case errors.Is(runErr, receiverengine.ErrIntegrityMismatch):
			bus.publish(StatusEvent{Kind: EventFailedVerification, Err: runErr})
		default:
			bus.publish(StatusEvent{Kind: EventError, Err: runErr})
		}
		run.result <- result
		run.done <- runErr
	}()

	return run, nil
}
