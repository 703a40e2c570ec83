// Package netutil resolves the LAN broadcast address, enumerates the host's
// IPv4 addresses, and opens the raw sockets the node needs: a
// broadcast-capable UDP sender and a reuse-enabled TCP listener.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

var ErrNoUsableInterface = errors.New("no usable broadcast interface")

// BroadcastIPv4 returns the broadcast address of the first non-loopback,
// up IPv4 interface that advertises broadcast capability.
func BroadcastIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if bcast := broadcastForNet(ipnet); bcast != nil {
				return bcast, nil
			}
		}
	}
	return nil, ErrNoUsableInterface
}

// broadcastForNet computes the directed broadcast address of an IPv4 network.
func broadcastForNet(ipnet *net.IPNet) net.IP {
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return nil
	}
	mask := ipnet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return nil
	}
	bcast := make(net.IP, net.IPv4len)
	for i := range bcast {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast
}

// LocalIPv4Set returns every non-loopback IPv4 address bound on the host,
// keyed by its dotted literal. Used to classify neighbors as local siblings.
func LocalIPv4Set() (map[string]bool, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("enumerate addresses: %w", err)
	}
	set := make(map[string]bool)
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		set[ip4.String()] = true
	}
	return set, nil
}

// BroadcastPacketConn opens a UDP socket with SO_BROADCAST set, bound to an
// ephemeral port. Used by the announcer to write to the broadcast address.
func BroadcastPacketConn() (net.PacketConn, error) {
	lc := net.ListenConfig{Control: controlBroadcast}
	return lc.ListenPacket(context.Background(), "udp4", ":0")
}

// ListenTCP opens a reuse-enabled IPv4 stream listener. addr is typically
// "0.0.0.0:0"; the kernel-assigned port becomes the node's announced port.
func ListenTCP(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlReuseAddr}
	return lc.Listen(context.Background(), "tcp4", addr)
}

func controlBroadcast(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}

func controlReuseAddr(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
