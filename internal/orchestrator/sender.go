package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/soyunomas/pycast/internal/config"
	"github.com/soyunomas/pycast/internal/discovery"
	"github.com/soyunomas/pycast/internal/lobby"
	"github.com/soyunomas/pycast/internal/metrics"
	"github.com/soyunomas/pycast/internal/senderengine"
	"github.com/soyunomas/pycast/internal/session"
)

// SenderRun holds everything a caller needs to observe and wait on a
// sender lifecycle started with RunSender.
type SenderRun struct {
	SessionID session.ID
	Events    <-chan StatusEvent
	Collector *metrics.SessionCollector

	done      chan error
	startCh   chan struct{}
	startOnce sync.Once
}

// Wait blocks until the transfer finishes (successfully, cancelled, or
// errored) and returns the terminal error, if any.
func (r *SenderRun) Wait() error {
	return <-r.done
}

// StartTransmission is the operator's "start_transmission" signal (spec
// §4.3): in lobby mode it stops admitting new joiners and begins
// transmission now. It is safe to call more than once, and is harmless
// (though unnecessary) in single-client mode, where transmission already
// begins as soon as the one client is admitted.
func (r *SenderRun) StartTransmission() {
	r.startOnce.Do(func() { close(r.startCh) })
}

// RunSender announces the session to discovery, runs the handshake
// (single-client accept-one or lobby hold-until-start per cfg.Lobby.
// Enabled), then transmits filePath and tears everything down. It returns
// immediately; progress is observed on the returned SenderRun.Events and
// the terminal outcome via Wait.
func RunSender(ctx context.Context, cfg *config.SenderConfig, filePath string, logger *slog.Logger, registry *discovery.Registry) (*SenderRun, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sid, err := session.NewID()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: generating session id: %w", err)
	}
	logger = logger.With("session_id", sid.String())

	handshakeAddr := fmt.Sprintf(":%d", cfg.Network.HandshakePort)
	lobbySrv, err := lobby.NewServer(handshakeAddr, sid, logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: starting handshake listener: %w", err)
	}

	engine, err := senderengine.New(cfg, sid, filePath, logger)
	if err != nil {
		lobbySrv.Close()
		return nil, err
	}

	var collector *metrics.SessionCollector
	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		collector = metrics.NewSessionCollector(sid)
		metricsSrv, err = metrics.NewServer(cfg.Metrics.Listen, collector)
		if err != nil {
			engine.Close()
			lobbySrv.Close()
			return nil, fmt.Errorf("orchestrator: starting metrics server: %w", err)
		}
		go metricsSrv.Run(ctx)
	}
	engine.Metrics = collector

	bus := newStatusBus()
	desc := session.Descriptor{
		ID:             sid,
		SessionName:    cfg.Session.Name,
		SenderUsername: cfg.Session.Username,
		HandshakePort:  cfg.Network.HandshakePort,
		Status:         session.StatusAvailable,
	}
	if registry != nil {
		registry.Announce(desc)
	}

	run := &SenderRun{SessionID: sid, Events: bus.events(), Collector: collector, done: make(chan error, 1), startCh: make(chan struct{})}

	go func() {
		defer lobbySrv.Close()
		defer engine.Close()
		defer bus.close()
		if registry != nil {
			defer registry.Withdraw(sid)
		}

		if err := admitClients(ctx, cfg, lobbySrv, bus, run.startCh); err != nil {
			run.done <- err
			return
		}
		if registry != nil {
			registry.UpdateStatus(sid, session.StatusBusy)
		}
		bus.publish(StatusEvent{Kind: EventTransmitStarted})

		engine.OnBlockDone = func(p senderengine.BlockProgress) {
			if collector != nil {
				collector.RecordRepairRounds(p.RepairRounds)
				if p.Confirmed {
					collector.RecordBlockConfirmed()
				}
			}
			kind := EventBlockConfirmed
			if !p.Confirmed {
				kind = EventBlockIncomplete
			}
			bus.publish(StatusEvent{Kind: kind, BlockIndex: p.BlockIndex, MissingCount: p.MissingAtStop})
		}

		runErr := engine.Run(ctx, cfg.Session.Name)
		switch {
		case runErr == nil:
			bus.publish(StatusEvent{Kind: EventEOF})
		case errors.Is(runErr, context.Canceled):
			bus.publish(StatusEvent{Kind: EventCancelled, Err: runErr})
		default:
			bus.publish(StatusEvent{Kind: EventError, Err: runErr})
		}
		run.done <- runErr
	}()

	return run, nil
}

// admitClients runs the handshake to completion: a single AcceptSingle call
// in single-client mode, or a lobby held open until the operator's
// start signal fires on startSignal (SenderRun.StartTransmission) or the
// caller's context is cancelled. Per spec §4.3 the lobby accepts joiners
// "until the operator issues start_transmission" — it never starts on its
// own merely because a client joined, so any number of receivers can join
// before the operator decides to begin.
func admitClients(ctx context.Context, cfg *config.SenderConfig, srv *lobby.Server, bus *statusBus, startSignal <-chan struct{}) error {
	if !cfg.Lobby.Enabled {
		client, err := srv.AcceptSingle()
		if err != nil {
			return fmt.Errorf("orchestrator: handshake: %w", err)
		}
		bus.publish(StatusEvent{Kind: EventLobbyJoined, ClientID: client.ID, ClientName: client.Username})
		return nil
	}

	srv.RunLobby(
		func(c lobby.ConnectedClient) {
			bus.publish(StatusEvent{Kind: EventLobbyJoined, ClientID: c.ID, ClientName: c.Username})
		},
		func(c lobby.ConnectedClient) {
			bus.publish(StatusEvent{Kind: EventLobbyDisconnect, ClientID: c.ID, ClientName: c.Username})
		},
	)

	select {
	case <-startSignal:
	case <-ctx.Done():
		return ctx.Err()
	}
	srv.StartTransmission()
	return nil
}
