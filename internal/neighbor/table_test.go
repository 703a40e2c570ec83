package neighbor_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"commnode/internal/neighbor"
	"commnode/internal/wire"
)

type fakeSession struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeSession) Send(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	f.frames = append(f.frames, buf)
	return true
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

var (
	idA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	idB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func TestUpsertInsertsOnce(t *testing.T) {
	tbl := neighbor.NewTable(nil)
	if got := tbl.Upsert(idA, "192.168.1.10", 9001, nil); got != neighbor.Inserted {
		t.Fatalf("expected Inserted, got %v", got)
	}
	if got := tbl.Upsert(idA, "192.168.1.99", 9999, nil); got != neighbor.Existed {
		t.Fatalf("expected Existed, got %v", got)
	}
	snap := tbl.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one entry, got %d", len(snap))
	}
	if snap[0].IP != "192.168.1.10" || snap[0].TCPPort != 9001 {
		t.Fatalf("first observation must win, got %s:%d", snap[0].IP, snap[0].TCPPort)
	}
}

func TestUpsertClassifiesLocal(t *testing.T) {
	tbl := neighbor.NewTable(map[string]bool{"10.0.0.8": true})
	tbl.Upsert(idA, "10.0.0.8", 9001, nil)
	tbl.Upsert(idB, "10.0.0.9", 9002, nil)
	locals := 0
	tbl.ForEachLocal(func(in neighbor.Info) {
		locals++
		if in.ID != idA {
			t.Fatalf("expected only %s local, saw %s", idA, in.ID)
		}
	})
	if locals != 1 {
		t.Fatalf("expected one local sibling, got %d", locals)
	}
}

func TestUpsertLateBindsSession(t *testing.T) {
	tbl := neighbor.NewTable(nil)
	tbl.Upsert(idA, "192.168.1.10", 9001, nil)
	sess := &fakeSession{}
	if got := tbl.Upsert(idA, "192.168.1.10", 9001, sess); got != neighbor.Existed {
		t.Fatalf("expected Existed, got %v", got)
	}
	snap := tbl.Snapshot()
	if snap[0].Session == nil {
		t.Fatalf("expected session late-bound")
	}
	if err := tbl.UpdateMetrics(sess, 10); err != nil {
		t.Fatalf("session should be known after late-bind: %v", err)
	}
}

func TestBindRefusesSecondSession(t *testing.T) {
	tbl := neighbor.NewTable(nil)
	first := &fakeSession{}
	tbl.Upsert(idA, "192.168.1.10", 9001, first)
	if !tbl.Bind(idA, first) {
		t.Fatalf("rebinding the same session must succeed")
	}
	if tbl.Bind(idA, &fakeSession{}) {
		t.Fatalf("a second session for the same neighbor must be refused")
	}
}

func TestBindUnknownNeighbor(t *testing.T) {
	tbl := neighbor.NewTable(nil)
	if tbl.Bind(idA, &fakeSession{}) {
		t.Fatalf("binding an unknown neighbor must fail")
	}
}

func TestUpdateMetricsComputesBandwidth(t *testing.T) {
	tbl := neighbor.NewTable(nil)
	sess := &fakeSession{}
	tbl.Upsert(idA, "192.168.1.10", 9001, sess)
	if err := tbl.UpdateMetrics(sess, 25); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	snap := tbl.Snapshot()
	if snap[0].LatencyMS != 25 {
		t.Fatalf("expected latency 25, got %d", snap[0].LatencyMS)
	}
	want := float64(wire.FrameSize) / 25
	if snap[0].Bandwidth != want {
		t.Fatalf("expected bandwidth %v, got %v", want, snap[0].Bandwidth)
	}
}

func TestUpdateMetricsZeroLatency(t *testing.T) {
	tbl := neighbor.NewTable(nil)
	sess := &fakeSession{}
	tbl.Upsert(idA, "192.168.1.10", 9001, sess)
	if err := tbl.UpdateMetrics(sess, 0); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if snap := tbl.Snapshot(); snap[0].Bandwidth != 0 {
		t.Fatalf("zero latency must yield zero bandwidth, got %v", snap[0].Bandwidth)
	}
}

func TestUpdateMetricsUnknownSession(t *testing.T) {
	tbl := neighbor.NewTable(nil)
	if err := tbl.UpdateMetrics(&fakeSession{}, 10); !errors.Is(err, neighbor.ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestClearReturnsSessions(t *testing.T) {
	tbl := neighbor.NewTable(nil)
	sess := &fakeSession{}
	tbl.Upsert(idA, "192.168.1.10", 9001, sess)
	tbl.Upsert(idB, "192.168.1.11", 9002, nil)
	sessions := tbl.Clear()
	if len(sessions) != 1 {
		t.Fatalf("expected one bound session, got %d", len(sessions))
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table after clear, got %d", tbl.Len())
	}
}
