// Package node composes the discovery engine: the UDP announcer and master
// listener, the TCP listener, the per-peer sessions, and the heartbeat pass
// that drives announcements, latency probes and the status dump.
package node

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"commnode/internal/config"
	"commnode/internal/metrics"
	"commnode/internal/neighbor"
	"commnode/internal/netutil"
)

var log = logging.Logger("commnode/node")

const (
	sessionQueueDepth  = 64
	acceptPollInterval = 1 * time.Second
	xferPollInterval   = 200 * time.Millisecond
)

// Node is the controller. One instance per process; Start spins up the
// listener loops, the external driver calls Update once per heartbeat, and
// Stop tears everything down.
type Node struct {
	cfg     config.Config
	id      uuid.UUID
	metrics *metrics.Metrics
	table   *neighbor.Table
	xfer    *neighbor.TransferQueue

	mu      sync.Mutex // guards udpConn across rebind and the session set
	udpConn *net.UDPConn
	annConn net.PacketConn
	annDest *net.UDPAddr
	tcpLn   *net.TCPListener
	tcpPort uint16

	sessions map[*session]struct{}

	running   atomic.Bool
	listening atomic.Bool
	quit      chan struct{}
	wg        sync.WaitGroup
	sessWG    sync.WaitGroup

	// nowMillis and dialFn are swapped out by tests.
	nowMillis func() int64
	dialFn    func(id uuid.UUID, ip string, port uint16)
}

// New builds a node from configuration. The UDP listener is bound first to
// settle master election, then the broadcast announcer, then the TCP
// listener, whose kernel-assigned port goes into every announcement.
func New(cfg config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := cfg.NodeID
	if id == uuid.Nil {
		id = uuid.New()
	}
	localSet, err := netutil.LocalIPv4Set()
	if err != nil {
		return nil, err
	}
	bcast, err := netutil.BroadcastIPv4()
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast address: %w", err)
	}
	n := newBareNode(cfg, id, localSet)

	conn, inUse, err := listenAnnouncePort(cfg.ListenPort)
	if err != nil {
		return nil, fmt.Errorf("bind announce port: %w", err)
	}
	if inUse {
		log.Infof("announce port %d already bound on this host; running as sibling", cfg.ListenPort)
	} else {
		n.udpConn = conn
		n.listening.Store(true)
	}

	ann, err := netutil.BroadcastPacketConn()
	if err != nil {
		n.closeSockets()
		return nil, fmt.Errorf("open broadcast socket: %w", err)
	}
	n.annConn = ann
	n.annDest = &net.UDPAddr{IP: bcast, Port: int(cfg.ListenPort)}

	ln, err := netutil.ListenTCP("0.0.0.0:0")
	if err != nil {
		n.closeSockets()
		return nil, fmt.Errorf("bind tcp listener: %w", err)
	}
	n.tcpLn = ln.(*net.TCPListener)
	n.tcpPort = uint16(ln.Addr().(*net.TCPAddr).Port)
	return n, nil
}

// newBareNode wires the in-memory parts only; New adds the sockets. Tests
// drive bare nodes directly.
func newBareNode(cfg config.Config, id uuid.UUID, localSet map[string]bool) *Node {
	n := &Node{
		cfg:      cfg,
		id:       id,
		metrics:  metrics.New(),
		table:    neighbor.NewTable(localSet),
		xfer:     neighbor.NewTransferQueue(),
		sessions: make(map[*session]struct{}),
		quit:     make(chan struct{}),
		nowMillis: func() int64 {
			return time.Now().UnixMilli()
		},
	}
	n.dialFn = func(id uuid.UUID, ip string, port uint16) {
		go n.dialNeighbor(id, ip, port)
	}
	return n
}

func (n *Node) ID() uuid.UUID   { return n.id }
func (n *Node) TCPPort() uint16 { return n.tcpPort }

// IsListening reports whether this node won the bind contention and owns
// the UDP receive loop for the host.
func (n *Node) IsListening() bool { return n.listening.Load() }

func (n *Node) Running() bool { return n.running.Load() }

// Table exposes the neighbor table to the operator surface.
func (n *Node) Table() *neighbor.Table { return n.table }

// Metrics exposes the counters for the status dump.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// Start raises the running flag and launches the loops: the UDP receive
// loop when master (or the rebind loop when not), and always the TCP
// accept loop.
func (n *Node) Start() {
	n.running.Store(true)
	if n.listening.Load() {
		n.wg.Add(1)
		go n.runUDP(n.udpConn)
	} else if n.cfg.MasterRebind {
		n.wg.Add(1)
		go n.runRebind()
	}
	n.wg.Add(1)
	go n.runAccept()
	log.Infof("node %s up: tcp_port=%d master=%v", n.id, n.tcpPort, n.listening.Load())
}

// Stop lowers the running flag, closes the listening sockets so the loops
// unblock, joins them, then closes every session and clears the table.
func (n *Node) Stop() {
	if !n.running.CompareAndSwap(true, false) {
		return
	}
	close(n.quit)
	n.closeSockets()
	n.wg.Wait()
	for _, s := range n.table.Clear() {
		s.Close()
	}
	n.mu.Lock()
	open := make([]*session, 0, len(n.sessions))
	for s := range n.sessions {
		open = append(open, s)
	}
	n.mu.Unlock()
	for _, s := range open {
		s.Close()
	}
	n.sessWG.Wait()
	log.Infof("node %s stopped", n.id)
}

func (n *Node) closeSockets() {
	n.mu.Lock()
	if n.udpConn != nil {
		n.udpConn.Close()
	}
	n.mu.Unlock()
	if n.annConn != nil {
		n.annConn.Close()
	}
	if n.tcpLn != nil {
		n.tcpLn.Close()
	}
}

func (n *Node) dialNeighbor(id uuid.UUID, ip string, port uint16) {
	addr := net.JoinHostPort(ip, strconv.FormatUint(uint64(port), 10))
	conn, err := net.Dial("tcp4", addr)
	if err != nil {
		log.Warnf("connect to neighbor %s at %s: %v", id, addr, err)
		return
	}
	s := n.newSession(conn, false)
	// The dialer knows who it dialed; bind now. Losing the race to an
	// inbound session for the same peer closes this one.
	if !n.table.Bind(id, s) {
		log.Debugf("neighbor %s already has a session, dropping outbound connect", id)
		s.Close()
		n.dropSession(s)
		return
	}
	go s.run()
}

func (n *Node) addSession(s *session) {
	n.mu.Lock()
	n.sessions[s] = struct{}{}
	n.mu.Unlock()
	n.sessWG.Add(1)
	n.metrics.IncSessionsOpened()
}

func (n *Node) dropSession(s *session) {
	n.mu.Lock()
	delete(n.sessions, s)
	n.mu.Unlock()
	n.xfer.Drop(s)
	n.metrics.IncSessionsClosed()
	n.sessWG.Done()
}
