// Package batcher accumulates raw PPG readings for upload.
//
// Readings are batched so a recording produces one store write per 30
// readings instead of one per sample. The batch belongs to exactly one
// session; the recorder flushes it at recording end so a partial final
// batch is not lost.
package batcher

import (
	"log/slog"
	"strings"
)

// DefaultBatchSize is the reading count that triggers an automatic flush.
const DefaultBatchSize = 30

// BatchWriter persists one serialized batch for a session.
type BatchWriter interface {
	AddRawBatch(userID, sessionID, data string) error
}

// Batcher is the in-memory raw-reading batch for one active session.
// It is single-writer: only the link's event dispatch goroutine appends,
// and only the recorder flushes, so no locking is needed.
type Batcher struct {
	writer    BatchWriter
	userID    string
	sessionID string
	batchSize int
	batch     []string
}

// New creates a Batcher bound to one session.
func New(writer BatchWriter, userID, sessionID string) *Batcher {
	return &Batcher{
		writer:    writer,
		userID:    userID,
		sessionID: sessionID,
		batchSize: DefaultBatchSize,
	}
}

// NewWithSize creates a Batcher with an explicit flush threshold.
func NewWithSize(writer BatchWriter, userID, sessionID string, batchSize int) *Batcher {
	b := New(writer, userID, sessionID)
	if batchSize > 0 {
		b.batchSize = batchSize
	}
	return b
}

// Append adds raw reading hex strings to the batch. When the batch reaches
// the flush threshold, the whole batch is written as one comma-joined
// record and cleared. A failed write is logged and the readings are
// dropped; the batcher does not retry.
func (b *Batcher) Append(hexReadings []string) {
	if len(hexReadings) == 0 {
		return
	}
	b.batch = append(b.batch, hexReadings...)
	slog.Debug("Batcher readings added", "session_id", b.sessionID, "added", len(hexReadings), "pending", len(b.batch))

	if len(b.batch) >= b.batchSize {
		b.write()
	}
}

// Flush writes whatever remains in the batch, even below the threshold.
// An empty batch is a logged no-op.
func (b *Batcher) Flush() {
	if len(b.batch) == 0 {
		slog.Debug("Batcher flush with no pending readings", "session_id", b.sessionID)
		return
	}
	b.write()
}

// Pending returns the number of readings awaiting upload.
func (b *Batcher) Pending() int { return len(b.batch) }

func (b *Batcher) write() {
	data := strings.Join(b.batch, ",")
	count := len(b.batch)
	// The batch clears whether or not the write lands; a persistent store
	// failure loses these readings, which is an accepted limitation.
	b.batch = b.batch[:0]

	if err := b.writer.AddRawBatch(b.userID, b.sessionID, data); err != nil {
		slog.Error("Batcher batch write failed", "error", err, "session_id", b.sessionID, "readings", count)
		return
	}
	slog.Debug("Batcher batch written", "session_id", b.sessionID, "readings", count)
}
