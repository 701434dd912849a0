package lobby

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/soyunomas/pycast/internal/session"
)

// Join dials the sender's handshake endpoint, sends a join request, and
// blocks until the sender is ready to transmit. In single-client mode the
// sender replies ACK_SINGLE and closes the connection immediately; in lobby
// mode it replies ACK_MULTI and holds the connection open until
// StartTransmission fires, at which point it sends START. Either response
// means the caller may proceed to join the multicast group.
//
// connectTimeout bounds both the TCP dial and the wait for the initial
// response; once ACK_MULTI is seen, the read deadline is cleared so the
// receiver can wait indefinitely for the sender to start.
func Join(addr string, sessionID session.ID, username string, connectTimeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return fmt.Errorf("lobby: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(connectTimeout)); err != nil {
		return fmt.Errorf("lobby: set deadline: %w", err)
	}
	if err := writeJoinRequest(conn, JoinRequest{SessionID: sessionID, Username: username}); err != nil {
		return fmt.Errorf("lobby: sending join request: %w", err)
	}

	br := bufio.NewReader(conn)
	token, err := readToken(br)
	if err != nil {
		return fmt.Errorf("lobby: reading handshake response: %w", err)
	}

	switch token {
	case RespAckSingle:
		return nil
	case RespAckMulti:
		if err := conn.SetDeadline(time.Time{}); err != nil {
			return fmt.Errorf("lobby: clearing deadline: %w", err)
		}
		start, err := readToken(br)
		if err != nil {
			return fmt.Errorf("lobby: waiting for start: %w", err)
		}
		if start != RespStart {
			return fmt.Errorf("lobby: expected %q, got %q", RespStart, start)
		}
		return nil
	default:
		return fmt.Errorf("lobby: unexpected handshake response %q", token)
	}
}
