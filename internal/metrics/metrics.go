// Package metrics counts the node's network activity and renders the
// periodic status dump consumed by the operator CLI.
package metrics

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"time"
)

type Metrics struct {
	announcesSent      atomic.Uint64
	announceFailures   atomic.Uint64
	datagramsReceived  atomic.Uint64
	datagramsMalformed atomic.Uint64
	framesForwarded    atomic.Uint64
	sessionsOpened     atomic.Uint64
	sessionsClosed     atomic.Uint64
	pingsQueued        atomic.Uint64
	pongsReceived      atomic.Uint64
	unknownVerbs       atomic.Uint64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncAnnouncesSent()      { m.announcesSent.Add(1) }
func (m *Metrics) IncAnnounceFailures()   { m.announceFailures.Add(1) }
func (m *Metrics) IncDatagramsReceived()  { m.datagramsReceived.Add(1) }
func (m *Metrics) IncDatagramsMalformed() { m.datagramsMalformed.Add(1) }
func (m *Metrics) IncFramesForwarded()    { m.framesForwarded.Add(1) }
func (m *Metrics) IncSessionsOpened()     { m.sessionsOpened.Add(1) }
func (m *Metrics) IncSessionsClosed()     { m.sessionsClosed.Add(1) }
func (m *Metrics) IncPingsQueued()        { m.pingsQueued.Add(1) }
func (m *Metrics) IncPongsReceived()      { m.pongsReceived.Add(1) }
func (m *Metrics) IncUnknownVerbs()       { m.unknownVerbs.Add(1) }

type Counters struct {
	AnnouncesSent      uint64 `json:"announces_sent"`
	AnnounceFailures   uint64 `json:"announce_failures"`
	DatagramsReceived  uint64 `json:"datagrams_received"`
	DatagramsMalformed uint64 `json:"datagrams_malformed"`
	FramesForwarded    uint64 `json:"frames_forwarded"`
	SessionsOpened     uint64 `json:"sessions_opened"`
	SessionsClosed     uint64 `json:"sessions_closed"`
	PingsQueued        uint64 `json:"pings_queued"`
	PongsReceived      uint64 `json:"pongs_received"`
	UnknownVerbs       uint64 `json:"unknown_verbs"`
}

func (m *Metrics) Counters() Counters {
	return Counters{
		AnnouncesSent:      m.announcesSent.Load(),
		AnnounceFailures:   m.announceFailures.Load(),
		DatagramsReceived:  m.datagramsReceived.Load(),
		DatagramsMalformed: m.datagramsMalformed.Load(),
		FramesForwarded:    m.framesForwarded.Load(),
		SessionsOpened:     m.sessionsOpened.Load(),
		SessionsClosed:     m.sessionsClosed.Load(),
		PingsQueued:        m.pingsQueued.Load(),
		PongsReceived:      m.pongsReceived.Load(),
		UnknownVerbs:       m.unknownVerbs.Load(),
	}
}

// NeighborStatus is one neighbor row in the status dump.
type NeighborStatus struct {
	ID        string  `json:"id"`
	IP        string  `json:"ip"`
	TCPPort   uint16  `json:"tcp_port"`
	LatencyMS int64   `json:"latency_ms"`
	Bandwidth float64 `json:"bandwidth"`
	IsLocal   bool    `json:"is_local"`
	Connected bool    `json:"connected"`
}

// Status is the full periodic dump written after each heartbeat.
type Status struct {
	GeneratedAt time.Time        `json:"generated_at"`
	NodeID      string           `json:"node_id"`
	TCPPort     uint16           `json:"tcp_port"`
	Master      bool             `json:"master"`
	Counters    Counters         `json:"counters"`
	Neighbors   []NeighborStatus `json:"neighbors"`
}

func WriteStatus(path string, st Status) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func ReadStatus(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}
