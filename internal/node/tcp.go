package node

import (
	"errors"
	"net"
	"time"
)

// runAccept owns the TCP listener. The listener runs with short accept
// deadlines so the loop can observe the running flag; timeout errors are
// the expected idle case, anything else ends the loop.
func (n *Node) runAccept() {
	defer n.wg.Done()
	for n.running.Load() {
		_ = n.tcpLn.SetDeadline(time.Now().Add(acceptPollInterval))
		conn, err := n.tcpLn.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !n.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Errorf("accept: %v", err)
			return
		}
		s := n.newSession(conn, true)
		go s.run()
	}
}
