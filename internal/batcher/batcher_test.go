package batcher

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// recordingWriter captures batch writes for inspection.
type recordingWriter struct {
	writes []string
	err    error
}

func (w *recordingWriter) AddRawBatch(userID, sessionID, data string) error {
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, data)
	return nil
}

func hexReadings(n, offset int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%04x", offset+i)
	}
	return out
}

func TestBatcherFlushesAtThreshold(t *testing.T) {
	w := &recordingWriter{}
	b := New(w, "u1", "s1")

	// 29 single appends must not trigger a write.
	for i := 0; i < DefaultBatchSize-1; i++ {
		b.Append(hexReadings(1, i))
	}
	if len(w.writes) != 0 {
		t.Fatalf("got %d writes before threshold, want 0", len(w.writes))
	}

	// The 30th reading triggers exactly one write of all 30 values.
	b.Append(hexReadings(1, DefaultBatchSize-1))
	if len(w.writes) != 1 {
		t.Fatalf("got %d writes at threshold, want 1", len(w.writes))
	}
	values := strings.Split(w.writes[0], ",")
	if len(values) != DefaultBatchSize {
		t.Errorf("batch contains %d values, want %d", len(values), DefaultBatchSize)
	}
	for i, v := range values {
		if v != fmt.Sprintf("%04x", i) {
			t.Errorf("value %d = %q, out of order", i, v)
		}
	}
	if b.Pending() != 0 {
		t.Errorf("batch not empty after flush: %d pending", b.Pending())
	}
}

func TestBatcherFlushWritesRemainder(t *testing.T) {
	w := &recordingWriter{}
	b := New(w, "u1", "s1")

	b.Append(hexReadings(35, 0))
	if len(w.writes) != 1 {
		t.Fatalf("got %d automatic writes for 35 readings, want 1", len(w.writes))
	}
	if b.Pending() != 5 {
		t.Fatalf("pending = %d, want 5", b.Pending())
	}

	b.Flush()
	if len(w.writes) != 2 {
		t.Fatalf("got %d writes after flush, want 2", len(w.writes))
	}
	if got := strings.Split(w.writes[1], ","); len(got) != 5 {
		t.Errorf("final batch contains %d values, want 5", len(got))
	}
	if b.Pending() != 0 {
		t.Errorf("batch not empty after flush: %d pending", b.Pending())
	}
}

func TestBatcherFlushEmptyIsNoOp(t *testing.T) {
	w := &recordingWriter{}
	b := New(w, "u1", "s1")
	b.Flush()
	if len(w.writes) != 0 {
		t.Errorf("empty flush produced %d writes, want 0", len(w.writes))
	}
}

func TestBatcherAppendEmptyIsNoOp(t *testing.T) {
	w := &recordingWriter{}
	b := New(w, "u1", "s1")
	b.Append(nil)
	if b.Pending() != 0 || len(w.writes) != 0 {
		t.Error("empty append changed state")
	}
}

func TestBatcherWriteFailureIsNotRetried(t *testing.T) {
	w := &recordingWriter{err: errors.New("store down")}
	b := New(w, "u1", "s1")
	b.Append(hexReadings(DefaultBatchSize, 0))
	if b.Pending() != 0 {
		t.Errorf("failed write left %d readings pending, want 0 (no retry)", b.Pending())
	}
	b.Flush()
	if len(w.writes) != 0 {
		t.Errorf("flush after failed write produced %d writes, want 0", len(w.writes))
	}
}

func TestBatcherCustomSize(t *testing.T) {
	w := &recordingWriter{}
	b := NewWithSize(w, "u1", "s1", 3)
	b.Append(hexReadings(3, 0))
	if len(w.writes) != 1 {
		t.Errorf("got %d writes at custom threshold, want 1", len(w.writes))
	}
}
