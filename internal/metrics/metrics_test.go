package metrics_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"commnode/internal/metrics"
)

func TestCounters(t *testing.T) {
	m := metrics.New()
	m.IncAnnouncesSent()
	m.IncAnnouncesSent()
	m.IncDatagramsReceived()
	m.IncDatagramsMalformed()
	m.IncFramesForwarded()
	m.IncSessionsOpened()
	m.IncSessionsClosed()
	m.IncPingsQueued()
	m.IncPongsReceived()
	m.IncUnknownVerbs()
	m.IncAnnounceFailures()
	c := m.Counters()
	if c.AnnouncesSent != 2 {
		t.Fatalf("expected 2 announces, got %d", c.AnnouncesSent)
	}
	if c.DatagramsReceived != 1 || c.DatagramsMalformed != 1 || c.FramesForwarded != 1 {
		t.Fatalf("datagram counters wrong: %+v", c)
	}
	if c.SessionsOpened != 1 || c.SessionsClosed != 1 {
		t.Fatalf("session counters wrong: %+v", c)
	}
	if c.PingsQueued != 1 || c.PongsReceived != 1 || c.UnknownVerbs != 1 || c.AnnounceFailures != 1 {
		t.Fatalf("probe counters wrong: %+v", c)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	st := metrics.Status{
		GeneratedAt: time.Now().UTC().Truncate(time.Second),
		NodeID:      "11111111-1111-1111-1111-111111111111",
		TCPPort:     40001,
		Master:      true,
		Counters:    metrics.Counters{AnnouncesSent: 7},
		Neighbors: []metrics.NeighborStatus{
			{
				ID:        "22222222-2222-2222-2222-222222222222",
				IP:        "192.168.1.20",
				TCPPort:   40002,
				LatencyMS: 25,
				Bandwidth: 128.0 / 25,
				IsLocal:   false,
				Connected: true,
			},
		},
	}
	if err := metrics.WriteStatus(path, st); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got, err := metrics.ReadStatus(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.NodeID != st.NodeID || got.TCPPort != st.TCPPort || !got.Master {
		t.Fatalf("header mismatch: %+v", got)
	}
	if got.Counters.AnnouncesSent != 7 {
		t.Fatalf("counters mismatch: %+v", got.Counters)
	}
	if len(got.Neighbors) != 1 || got.Neighbors[0].LatencyMS != 25 {
		t.Fatalf("neighbors mismatch: %+v", got.Neighbors)
	}
}

func TestWriteStatusNoPath(t *testing.T) {
	if err := metrics.WriteStatus("", metrics.Status{}); err != nil {
		t.Fatalf("empty path must be a no-op, got %v", err)
	}
}

func TestReadStatusMissing(t *testing.T) {
	if _, err := metrics.ReadStatus(filepath.Join(t.TempDir(), "absent.json")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
