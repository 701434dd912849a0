// Package mcastnet builds the UDP sockets the data and NACK planes run on:
// a TTL-scoped multicast sender, a multicast group listener, and a plain
// unicast socket for the NACK back-channel. Socket setup follows the
// golang.org/x/net/ipv4 PacketConn idiom used elsewhere in the pack for
// multicast TTL/group control, since the teacher repository has no
// multicast code of its own to ground this on.
package mcastnet

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// DialMulticastSender returns a UDP socket bound for sending to
// group:port with the given TTL (1 restricts delivery to the local
// subnet, per spec §4.4's "local LAN" data plane).
func DialMulticastSender(group string, port int, ttl int) (*net.UDPConn, error) {
	raddr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}
	if raddr.IP == nil {
		return nil, fmt.Errorf("mcastnet: invalid multicast group %q", group)
	}

	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("mcastnet: dial multicast %s:%d: %w", group, port, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcastnet: set multicast ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcastnet: enable multicast loopback: %w", err)
	}
	return conn, nil
}

// ListenMulticastReceiver joins group:port and returns a socket that reads
// datagrams sent to it. When ifaceName is empty the kernel picks a default
// multicast-capable interface.
func ListenMulticastReceiver(group string, port int, ifaceName string) (*net.UDPConn, error) {
	groupAddr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}
	if groupAddr.IP == nil {
		return nil, fmt.Errorf("mcastnet: invalid multicast group %q", group)
	}

	var ifi *net.Interface
	if ifaceName != "" {
		var err error
		ifi, err = net.InterfaceByName(ifaceName)
		if err != nil {
			return nil, fmt.Errorf("mcastnet: interface %q: %w", ifaceName, err)
		}
	}

	conn, err := net.ListenMulticastUDP("udp4", ifi, groupAddr)
	if err != nil {
		return nil, fmt.Errorf("mcastnet: join multicast %s:%d: %w", group, port, err)
	}
	if err := conn.SetReadBuffer(4 * 1024 * 1024); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcastnet: set read buffer: %w", err)
	}
	return conn, nil
}

// ListenUnicast binds a plain UDP socket for the NACK plane: the sender
// listens on it to receive NACKs from any receiver, and each receiver binds
// one to send NACKs from and to receive any point-to-point control traffic.
func ListenUnicast(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("mcastnet: listen unicast :%d: %w", port, err)
	}
	return conn, nil
}
