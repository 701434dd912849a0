// Package lobby implements the TCP handshake described in spec §4.3: a
// joiner sends a JSON request naming the session it wants to join, and the
// sender admits it either immediately (single-client mode) or holds it in a
// lobby until the operator issues start_transmission (lobby mode).
package lobby

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/soyunomas/pycast/internal/session"
)

// maxJoinRequestBytes bounds the join request per spec §6 ("≤1024 bytes").
const maxJoinRequestBytes = 1024

// Literal response tokens per spec §4.3/§6. A trailing newline is appended
// on the wire so the reader can frame each token unambiguously on a stream
// protocol, following the teacher protocol package's convention of
// delimiting every textual field with '\n' (see internal/protocol/reader.go
// ReadString('\n')); the spec's "literal byte strings" language does not
// specify a delimiter, so this is the natural TCP framing choice.
const (
	RespAckSingle = "ACK_SINGLE"
	RespAckMulti  = "ACK_MULTI"
	RespStart     = "START"
)

// JoinRequest is the joiner's request record: {"session_id":"<uuid>",
// "username":"<str>"}.
type JoinRequest struct {
	SessionID session.ID `json:"session_id"`
	Username  string     `json:"username"`
}

func writeJoinRequest(w io.Writer, req JoinRequest) error {
	return json.NewEncoder(w).Encode(req)
}

func readJoinRequest(r io.Reader) (JoinRequest, error) {
	var req JoinRequest
	lr := io.LimitReader(r, maxJoinRequestBytes)
	if err := json.NewDecoder(lr).Decode(&req); err != nil {
		return JoinRequest{}, fmt.Errorf("lobby: decoding join request: %w", err)
	}
	return req, nil
}

func writeToken(w io.Writer, token string) error {
	_, err := io.WriteString(w, token+"\n")
	return err
}

func readToken(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	return line, nil
}
