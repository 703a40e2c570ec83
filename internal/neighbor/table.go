// Package neighbor holds the node's view of its peers: the concurrent
// neighbor table keyed by node id, the local-sibling sub-view, and the
// transfer queue the metrics scheduler uses to hand frames to sessions.
package neighbor

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"commnode/internal/wire"
)

// Session is the handle a table entry keeps to the TCP session that owns the
// peer's socket. Send enqueues one frame on the session's outbound queue and
// reports false when the session is gone or saturated.
type Session interface {
	Send(frame []byte) bool
	Close() error
}

// Info is one neighbor record. Entries are created on first observation and
// live until node shutdown; only the table's own Upsert and Bind and the
// owning session's metric updates mutate them.
type Info struct {
	ID        uuid.UUID
	IP        string
	TCPPort   uint16
	LatencyMS int64
	Bandwidth float64
	IsLocal   bool
	Session   Session
}

type Outcome int

const (
	Inserted Outcome = iota
	Existed
)

var ErrUnknownSession = errors.New("unknown session")

// Table is the concurrent neighbor map. All mutation is serialized by one
// mutex; iteration copies under the lock and never holds it across I/O.
type Table struct {
	mu        sync.Mutex
	localSet  map[string]bool
	entries   map[uuid.UUID]*Info
	bySession map[Session]*Info
}

func NewTable(localSet map[string]bool) *Table {
	if localSet == nil {
		localSet = make(map[string]bool)
	}
	return &Table{
		localSet:  localSet,
		entries:   make(map[uuid.UUID]*Info),
		bySession: make(map[Session]*Info),
	}
}

// Upsert records a peer observation. An unknown id creates the entry,
// classifying IsLocal against the host's address set, and returns Inserted;
// the caller initiates the connect-out when it passed no session. A known id
// returns Existed and mutates nothing except late-binding a previously
// absent session. The first observation of ip and port wins.
func (t *Table) Upsert(id uuid.UUID, ip string, tcpPort uint16, sess Session) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.entries[id]; ok {
		if n.Session == nil && sess != nil {
			n.Session = sess
			t.bySession[sess] = n
		}
		return Existed
	}
	n := &Info{
		ID:      id,
		IP:      ip,
		TCPPort: tcpPort,
		IsLocal: t.localSet[ip],
		Session: sess,
	}
	t.entries[id] = n
	if sess != nil {
		t.bySession[sess] = n
	}
	return Inserted
}

// Bind late-binds a session to an existing entry during the uuid handshake.
// It reports false when the entry already owns a different session; the
// caller closes the extra one.
func (t *Table) Bind(id uuid.UUID, sess Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.entries[id]
	if !ok {
		return false
	}
	if n.Session == nil {
		n.Session = sess
		t.bySession[sess] = n
		return true
	}
	return n.Session == sess
}

// UpdateMetrics stores a round-trip sample against the neighbor owning the
// session and recomputes bandwidth as frame bytes per millisecond.
func (t *Table) UpdateMetrics(sess Session, latencyMS int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.bySession[sess]
	if !ok {
		return ErrUnknownSession
	}
	n.LatencyMS = latencyMS
	if latencyMS > 0 {
		n.Bandwidth = float64(wire.FrameSize) / float64(latencyMS)
	} else {
		n.Bandwidth = 0
	}
	return nil
}

// ForEach calls f for every neighbor on a snapshot taken under the lock.
func (t *Table) ForEach(f func(Info)) {
	for _, n := range t.Snapshot() {
		f(n)
	}
}

// ForEachLocal calls f for every local sibling.
func (t *Table) ForEachLocal(f func(Info)) {
	for _, n := range t.Snapshot() {
		if n.IsLocal {
			f(n)
		}
	}
}

// Snapshot copies the table under the lock.
func (t *Table) Snapshot() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Info, 0, len(t.entries))
	for _, n := range t.entries {
		out = append(out, *n)
	}
	return out
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear empties the table at shutdown and returns the bound sessions so the
// controller can close them.
func (t *Table) Clear() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	sessions := make([]Session, 0, len(t.bySession))
	for s := range t.bySession {
		sessions = append(sessions, s)
	}
	t.entries = make(map[uuid.UUID]*Info)
	t.bySession = make(map[Session]*Info)
	return sessions
}
