package lobby

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/soyunomas/pycast/internal/session"
)

// startPause is how long StartTransmission waits after signalling lobby
// clients before returning, giving each per-client handler time to write
// START and close its connection before the sender begins multicasting data.
const startPause = 500 * time.Millisecond

// ConnectedClient describes one admitted joiner. ID is assigned by the
// sender with rs/xid, which produces compact, sortable, allocation-free ids
// well suited to a short-lived per-session roster.
type ConnectedClient struct {
	ID       string
	Username string
}

// Server is the sender side of the handshake: a TCP listener that admits
// joiners either immediately (single-client mode) or into a lobby held open
// until StartTransmission is called.
type Server struct {
	listener  net.Listener
	sessionID session.ID
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[string]*ConnectedClient
	started chan struct{}
}

// NewServer binds a TCP listener at addr for the handshake described by
// sessionID.
func NewServer(addr string, sessionID session.ID, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("lobby: listen %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listener:  ln,
		sessionID: sessionID,
		logger:    logger,
		clients:   make(map[string]*ConnectedClient),
		started:   make(chan struct{}),
	}, nil
}

// Addr returns the listener's bound address, useful when addr was "host:0".
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close unblocks any in-flight Accept and rejects further connections. It
// is the cooperative-cancellation hook for stop_session: closing the
// listening socket is what actually unblocks a blocked Accept call.
func (s *Server) Close() error {
	return s.listener.Close()
}

// AcceptSingle blocks for exactly one joiner, admits it with ACK_SINGLE, and
// closes the listener so at most one client is ever admitted in
// single-client mode. It returns an error if the listener is closed, the
// join request cannot be read, or it names the wrong session id. No read
// deadline is set on the accepted connection.
func (s *Server) AcceptSingle() (ConnectedClient, error) {
	defer s.listener.Close()

	conn, err := s.listener.Accept()
	if err != nil {
		return ConnectedClient{}, fmt.Errorf("lobby: accept: %w", err)
	}
	defer conn.Close()

	req, err := readJoinRequest(conn)
	if err != nil {
		return ConnectedClient{}, err
	}
	if req.SessionID != s.sessionID {
		return ConnectedClient{}, fmt.Errorf("lobby: join request for foreign session %s", req.SessionID)
	}
	if err := writeToken(conn, RespAckSingle); err != nil {
		return ConnectedClient{}, fmt.Errorf("lobby: writing ack: %w", err)
	}
	return ConnectedClient{ID: xid.New().String(), Username: req.Username}, nil
}

// RunLobby accepts joiners in the background until the listener is closed.
// Each admitted joiner is reported via onJoin and held open until
// StartTransmission fires; a joiner that disconnects first is reported via
// onDisconnect instead. Both callbacks may be nil.
func (s *Server) RunLobby(onJoin, onDisconnect func(ConnectedClient)) {
	go func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				return
			}
			go s.handleJoiner(conn, onJoin, onDisconnect)
		}
	}()
}

func (s *Server) handleJoiner(conn net.Conn, onJoin, onDisconnect func(ConnectedClient)) {
	defer conn.Close()

	req, err := readJoinRequest(conn)
	if err != nil {
		s.logger.Warn("lobby: rejecting joiner", "error", err)
		return
	}
	if req.SessionID != s.sessionID {
		s.logger.Warn("lobby: foreign session id in join request", "session_id", req.SessionID)
		return
	}
	if err := writeToken(conn, RespAckMulti); err != nil {
		return
	}

	client := &ConnectedClient{ID: xid.New().String(), Username: req.Username}
	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()
	if onJoin != nil {
		onJoin(*client)
	}

	disconnected := make(chan struct{})
	go func() {
		buf := make([]byte, 1)
		conn.Read(buf) //nolint:errcheck // any return (EOF or data) means the peer is gone or misbehaving
		close(disconnected)
	}()

	select {
	case <-s.started:
		writeToken(conn, RespStart) //nolint:errcheck // best-effort; client treats a dropped conn as failure
	case <-disconnected:
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		if onDisconnect != nil {
			onDisconnect(*client)
		}
	}
}

// StartTransmission signals every lobby client still connected, waits a
// short pause for the signal to land, and stops accepting new joiners.
func (s *Server) StartTransmission() {
	s.mu.Lock()
	select {
	case <-s.started:
	default:
		close(s.started)
	}
	s.mu.Unlock()

	s.listener.Close()
	time.Sleep(startPause)
}

// Clients returns a snapshot of the joiners currently held in the lobby.
func (s *Server) Clients() []ConnectedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnectedClient, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, *c)
	}
	return out
}
