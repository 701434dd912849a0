package mcastnet

import (
	"testing"
	"time"
)

const testGroup = "239.255.77.88"

func TestMulticastSendAndReceive(t *testing.T) {
	const port = 27183

	recv, err := ListenMulticastReceiver(testGroup, port, "")
	if err != nil {
		t.Skipf("multicast not available in this environment: %v", err)
	}
	defer recv.Close()

	send, err := DialMulticastSender(testGroup, port, 1)
	if err != nil {
		t.Fatalf("DialMulticastSender: %v", err)
	}
	defer send.Close()

	payload := []byte("hello-multicast")
	if _, err := send.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	recv.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, _, err := recv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("got %q, want %q", buf[:n], payload)
	}
}

func TestListenUnicastRoundTrip(t *testing.T) {
	srv, err := ListenUnicast(0)
	if err != nil {
		t.Fatalf("ListenUnicast: %v", err)
	}
	defer srv.Close()

	cli, err := ListenUnicast(0)
	if err != nil {
		t.Fatalf("ListenUnicast: %v", err)
	}
	defer cli.Close()

	addr := srv.LocalAddr()
	if _, err := cli.WriteTo([]byte("ping"), addr); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	srv.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := srv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("got %q, want ping", buf[:n])
	}
}

func TestDialMulticastSenderRejectsInvalidGroup(t *testing.T) {
	if _, err := DialMulticastSender("not-an-ip", 5007, 1); err == nil {
		t.Fatal("expected error for invalid group address")
	}
}
