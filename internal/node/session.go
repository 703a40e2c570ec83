package node

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"commnode/internal/neighbor"
	"commnode/internal/wire"
)

// session owns exactly one TCP socket. A reader goroutine dispatches
// inbound frames; a single writer goroutine drains the outbound queue so
// per-session frame order is preserved without holding locks across I/O.
type session struct {
	node     *Node
	conn     net.Conn
	inbound  bool
	peerIP   string
	peerPort uint16

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (n *Node) newSession(conn net.Conn, inbound bool) *session {
	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	port, _ := strconv.ParseUint(portStr, 10, 16)
	s := &session{
		node:     n,
		conn:     conn,
		inbound:  inbound,
		peerIP:   host,
		peerPort: uint16(port),
		out:      make(chan []byte, sessionQueueDepth),
		done:     make(chan struct{}),
	}
	n.addSession(s)
	return s
}

// Send enqueues one frame on the session's outbound queue. It reports false
// when the session is closed or the queue is saturated; forwarded traffic
// has no flow control, so a full queue drops rather than blocks.
func (s *session) Send(frame []byte) bool {
	if len(frame) != wire.FrameSize {
		padded, err := wire.Pad(frame)
		if err != nil {
			return false
		}
		frame = padded
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	default:
		log.Warnf("session %s: outbound queue full, dropping frame", s.peerIP)
		return false
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
	return nil
}

// run is the reader loop. The inbound (accepted) side opens with the
// `get uuid` greeting; thereafter frames are dispatched one at a time and
// the transfer-queue slot is drained after each one.
func (s *session) run() {
	n := s.node
	go s.writeLoop()
	defer func() {
		s.Close()
		n.dropSession(s)
	}()
	if s.inbound {
		s.Send(wire.EncodeGetUUID())
	}
	for {
		frame, err := wire.ReadFrame(s.conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				log.Debugf("session %s: peer hung up", s.peerIP)
			case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
			default:
				log.Warnf("session %s: read: %v", s.peerIP, err)
			}
			return
		}
		s.handleFrame(frame)
		if queued, ok := n.xfer.Take(s); ok {
			s.Send(queued)
		}
		if !n.running.Load() {
			return
		}
	}
}

// writeLoop is the session's only writer. Besides the outbound queue it
// polls the transfer-queue slot so scheduler pings go out on otherwise
// quiet sessions.
func (s *session) writeLoop() {
	ticker := time.NewTicker(xferPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			if !s.writeFrame(frame) {
				return
			}
		case <-ticker.C:
			if frame, ok := s.node.xfer.Take(s); ok {
				if !s.writeFrame(frame) {
					return
				}
			}
		}
	}
}

func (s *session) writeFrame(frame []byte) bool {
	if err := wire.WriteFrame(s.conn, frame); err != nil {
		if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
			log.Debugf("session %s: write: %v", s.peerIP, err)
		}
		s.Close()
		return false
	}
	return true
}

func (s *session) handleFrame(frame []byte) {
	n := s.node
	msg, err := wire.Decode(frame)
	if err != nil {
		n.metrics.IncUnknownVerbs()
		log.Debugf("session %s: %v", s.peerIP, err)
		return
	}
	switch msg.Kind {
	case wire.KindPing:
		s.Send(wire.EncodePong(msg.Millis))
	case wire.KindPong:
		delta := n.nowMillis() - msg.Millis
		if err := n.table.UpdateMetrics(s, delta); err != nil {
			log.Debugf("session %s: pong on unbound session", s.peerIP)
		}
		n.metrics.IncPongsReceived()
	case wire.KindGetUUID:
		s.Send(wire.EncodeUUID(n.id))
	case wire.KindUUID:
		if msg.ID == n.id {
			return
		}
		s.bindPeer(msg.ID)
	case wire.KindAdd:
		if msg.ID == n.id {
			return
		}
		if n.table.Upsert(msg.ID, s.peerIP, msg.Port, nil) == neighbor.Inserted {
			n.dialFn(msg.ID, s.peerIP, msg.Port)
		}
	}
}

// bindPeer completes the uuid handshake: the session attaches itself to the
// peer's table entry, and loses to any session that got there first.
func (s *session) bindPeer(id uuid.UUID) {
	n := s.node
	n.table.Upsert(id, s.peerIP, s.peerPort, s)
	if !n.table.Bind(id, s) {
		log.Debugf("session %s: neighbor %s already bound, closing duplicate", s.peerIP, id)
		s.Close()
	}
}
