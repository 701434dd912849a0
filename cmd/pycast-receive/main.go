package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/soyunomas/pycast/internal/config"
	"github.com/soyunomas/pycast/internal/logging"
	"github.com/soyunomas/pycast/internal/orchestrator"
	"github.com/soyunomas/pycast/internal/receiverengine"
	"github.com/soyunomas/pycast/internal/session"
)

func main() {
	configPath := flag.String("config", "/etc/pycast/receiver.yaml", "path to receiver config file")
	senderHost := flag.String("sender-host", "", "hostname or IP of the sending process (required)")
	handshakePort := flag.Int("handshake-port", 5008, "sender's handshake (lobby) port")
	sessionIDFlag := flag.String("session-id", "", "session id announced by the sender (required)")
	username := flag.String("username", "", "username presented at the handshake (default: current user)")
	flag.Parse()

	if *senderHost == "" || *sessionIDFlag == "" {
		fmt.Fprintln(os.Stderr, "Error: -sender-host and -session-id are required")
		os.Exit(1)
	}

	sid, err := session.ParseID(*sessionIDFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -session-id: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadReceiverConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	name := *username
	if name == "" {
		if u, err := user.Current(); err == nil {
			name = u.Username
		} else {
			name = "anonymous"
		}
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, cancelling transfer", "signal", sig)
		cancel()
	}()

	desc := session.Descriptor{
		ID:            sid,
		HandshakePort: *handshakePort,
		Status:        session.StatusAvailable,
	}

	run, err := orchestrator.RunReceiver(ctx, cfg, desc, *senderHost, name, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error joining session: %v\n", err)
		os.Exit(1)
	}

	logger.Info("joined session, awaiting transmission", "session_id", sid.String(), "sender_host", *senderHost)

	go reportEvents(run.Events)

	result, err := run.Wait()
	if err != nil {
		if errors.Is(err, receiverengine.ErrIntegrityMismatch) {
			logger.Error("verification failed, file discarded", "error", err)
			os.Exit(1)
		}
		logger.Error("transfer failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("transfer complete: %s (%d bytes)\n", result.FinalPath, result.Desc.Size)
}

func reportEvents(events <-chan orchestrator.StatusEvent) {
	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventBlockConfirmed:
			fmt.Printf("block %d confirmed\n", ev.BlockIndex)
		case orchestrator.EventBlockIncomplete:
			fmt.Printf("block %d: requesting retransmit of %d chunk(s)\n", ev.BlockIndex, ev.MissingCount)
		case orchestrator.EventCancelled:
			fmt.Println("sender cancelled the session")
		case orchestrator.EventFailedVerification:
			fmt.Println("verification failed: checksum mismatch, file discarded")
		case orchestrator.EventError:
			fmt.Printf("error: %v\n", ev.Err)
		}
	}
}
