package node

import (
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"commnode/internal/neighbor"
	"commnode/internal/wire"
)

// listenAnnouncePort attempts to bind the shared UDP announcement port.
// EADDRINUSE means another node on this host is already master and is
// reported separately; any other failure is a real error.
func listenAnnouncePort(port uint16) (*net.UDPConn, bool, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: int(port)})
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, true, nil
		}
		return nil, false, err
	}
	return conn, false, nil
}

// runUDP is the master receive loop. Each datagram gets a fresh buffer so
// forwarding never aliases the next read.
func (n *Node) runUDP(conn *net.UDPConn) {
	defer n.wg.Done()
	for n.running.Load() {
		buf := make([]byte, wire.FrameSize)
		nr, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !n.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Errorf("announce receive: %v", err)
			return
		}
		n.handleDatagram(buf[:nr], src.IP.String())
	}
}

// runRebind re-attempts the announce-port bind while another process holds
// it, so a crashed master is eventually replaced.
func (n *Node) runRebind() {
	defer n.wg.Done()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	for {
		select {
		case <-n.quit:
			return
		case <-time.After(b.NextBackOff()):
		}
		conn, inUse, err := listenAnnouncePort(n.cfg.ListenPort)
		if err != nil {
			log.Errorf("rebind announce port: %v", err)
			return
		}
		if inUse {
			continue
		}
		if !n.running.Load() {
			conn.Close()
			return
		}
		n.mu.Lock()
		n.udpConn = conn
		n.mu.Unlock()
		n.listening.Store(true)
		log.Infof("master gone; took over announce port %d", n.cfg.ListenPort)
		n.wg.Add(1)
		go n.runUDP(conn)
		return
	}
}

// handleDatagram forwards the raw payload to every local sibling first,
// then parses it. Only `add` announcements are meaningful on the UDP port;
// the node's own announcements are dropped, and the sender IP is taken from
// the datagram source, never from the payload.
func (n *Node) handleDatagram(payload []byte, srcIP string) {
	n.metrics.IncDatagramsReceived()
	n.table.ForEachLocal(func(in neighbor.Info) {
		if in.Session == nil {
			return
		}
		if in.Session.Send(payload) {
			n.metrics.IncFramesForwarded()
		}
	})
	msg, err := wire.Decode(payload)
	if err != nil || msg.Kind != wire.KindAdd {
		n.metrics.IncDatagramsMalformed()
		log.Warnf("malformed announcement from %s: %q", srcIP, wire.Trim(payload))
		return
	}
	if msg.ID == n.id {
		return
	}
	if n.table.Upsert(msg.ID, srcIP, msg.Port, nil) == neighbor.Inserted {
		log.Infof("discovered neighbor %s at %s:%d", msg.ID, srcIP, msg.Port)
		n.dialFn(msg.ID, srcIP, msg.Port)
	}
}
