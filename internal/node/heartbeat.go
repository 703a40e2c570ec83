package node

import (
	"time"

	"commnode/internal/metrics"
	"commnode/internal/neighbor"
	"commnode/internal/wire"
)

// Update is the heartbeat pass, invoked by the driver once per configured
// interval: announce, queue latency probes, dump status.
func (n *Node) Update() {
	n.announceTick()
	n.pingTick()
	n.dumpStatus()
}

// announceTick broadcasts one `add <id> <tcp_port>` frame. Failures are
// logged and retried on the next tick.
func (n *Node) announceTick() {
	frame := wire.EncodeAdd(n.id, n.tcpPort)
	if _, err := n.annConn.WriteTo(frame, n.annDest); err != nil {
		n.metrics.IncAnnounceFailures()
		log.Errorf("broadcast announce: %v", err)
		return
	}
	n.metrics.IncAnnouncesSent()
}

// pingTick queues `ping <now>` on every active session's transfer slot.
// Correlation happens in the session against the echoed timestamp, so the
// scheduler carries no state between ticks.
func (n *Node) pingTick() {
	frame := wire.EncodePing(n.nowMillis())
	n.table.ForEach(func(in neighbor.Info) {
		if in.Session == nil {
			return
		}
		n.xfer.Put(in.Session, frame)
		n.metrics.IncPingsQueued()
	})
}

// dumpStatus writes the JSON snapshot the operator CLI reads back.
func (n *Node) dumpStatus() {
	if n.cfg.StatusFile == "" {
		return
	}
	snap := n.table.Snapshot()
	neighbors := make([]metrics.NeighborStatus, 0, len(snap))
	for _, in := range snap {
		neighbors = append(neighbors, metrics.NeighborStatus{
			ID:        in.ID.String(),
			IP:        in.IP,
			TCPPort:   in.TCPPort,
			LatencyMS: in.LatencyMS,
			Bandwidth: in.Bandwidth,
			IsLocal:   in.IsLocal,
			Connected: in.Session != nil,
		})
	}
	st := metrics.Status{
		GeneratedAt: time.Now().UTC(),
		NodeID:      n.id.String(),
		TCPPort:     n.tcpPort,
		Master:      n.listening.Load(),
		Counters:    n.metrics.Counters(),
		Neighbors:   neighbors,
	}
	if err := metrics.WriteStatus(n.cfg.StatusFile, st); err != nil {
		log.Warnf("write status dump: %v", err)
	}
}
