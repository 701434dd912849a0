package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/soyunomas/pycast/internal/config"
	"github.com/soyunomas/pycast/internal/logging"
	"github.com/soyunomas/pycast/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "/etc/pycast/sender.yaml", "path to sender config file")
	filePath := flag.String("file", "", "path to the file to transmit")
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		os.Exit(1)
	}

	cfg, err := config.LoadSenderConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
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

	run, err := orchestrator.RunSender(ctx, cfg, *filePath, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting sender: %v\n", err)
		os.Exit(1)
	}

	logger.Info("sender started", "session_id", run.SessionID.String(), "file", *filePath, "lobby_enabled", cfg.Lobby.Enabled)
	fmt.Printf("session %s: waiting for receiver(s) on handshake port %d\n", run.SessionID.String(), cfg.Network.HandshakePort)

	go reportEvents(run.Events)

	if cfg.Lobby.Enabled {
		fmt.Println("lobby mode: press Enter once all receivers have joined to start transmission")
		go func() {
			bufio.NewReader(os.Stdin).ReadString('\n')
			run.StartTransmission()
		}()
	}

	if err := run.Wait(); err != nil {
		logger.Error("transfer failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("transfer complete")
}

func reportEvents(events <-chan orchestrator.StatusEvent) {
	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventLobbyJoined:
			fmt.Printf("receiver joined: %s (%s)\n", ev.ClientName, ev.ClientID)
		case orchestrator.EventLobbyDisconnect:
			fmt.Printf("receiver disconnected: %s (%s)\n", ev.ClientName, ev.ClientID)
		case orchestrator.EventTransmitStarted:
			fmt.Println("transmission started")
		case orchestrator.EventBlockConfirmed:
			fmt.Printf("block %d confirmed\n", ev.BlockIndex)
		case orchestrator.EventBlockIncomplete:
			fmt.Printf("block %d incomplete: %d chunk(s) unconfirmed after repair rounds\n", ev.BlockIndex, ev.MissingCount)
		case orchestrator.EventCancelled:
			fmt.Println("session cancelled")
		case orchestrator.EventError:
			fmt.Printf("error: %v\n", ev.Err)
		}
	}
}
