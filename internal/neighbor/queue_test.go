package neighbor_test

import (
	"bytes"
	"testing"

	"commnode/internal/neighbor"
)

func TestTransferQueueOverwrites(t *testing.T) {
	q := neighbor.NewTransferQueue()
	sess := &fakeSession{}
	q.Put(sess, []byte("ping 1"))
	q.Put(sess, []byte("ping 2"))
	frame, ok := q.Take(sess)
	if !ok {
		t.Fatalf("expected a pending frame")
	}
	if !bytes.Equal(frame, []byte("ping 2")) {
		t.Fatalf("later writes must overwrite, got %q", frame)
	}
	if _, ok := q.Take(sess); ok {
		t.Fatalf("take must clear the slot")
	}
}

func TestTransferQueueCopiesFrame(t *testing.T) {
	q := neighbor.NewTransferQueue()
	sess := &fakeSession{}
	src := []byte("ping 3")
	q.Put(sess, src)
	src[0] = 'x'
	frame, _ := q.Take(sess)
	if !bytes.Equal(frame, []byte("ping 3")) {
		t.Fatalf("queued frame must not alias the caller's buffer, got %q", frame)
	}
}

func TestTransferQueueDrop(t *testing.T) {
	q := neighbor.NewTransferQueue()
	sess := &fakeSession{}
	q.Put(sess, []byte("ping 4"))
	q.Drop(sess)
	if _, ok := q.Take(sess); ok {
		t.Fatalf("dropped slot must be empty")
	}
}
