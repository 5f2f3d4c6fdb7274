package streams

import (
	"fmt"

	"github.com/shoalbroker/shoal/log"
)

// Metrics is the opaque sink for the dropped-records counter (spec §1
// Non-goals, §4.2).
type Metrics interface {
	IncrDroppedRecords(delta int64)
}

// head holds at most one materialized record: either a *StampedRecord or a
// *CorruptedRecord, never both (spec §3).
type head struct {
	stamped   *StampedRecord
	corrupted *CorruptedRecord
	size      int64
}

func (h *head) isEmpty() bool { return h.stamped == nil && h.corrupted == nil }

// RecordQueue buffers raw records for one partition and exposes at most one
// decoded, timestamp-validated head (spec §4.2). It is single-threaded:
// the owning stream task is the only caller, so there is no internal
// locking (spec §5 "Record queue").
type RecordQueue struct {
	topic     string
	partition int32

	deserializer Deserializer
	extractor    TimestampExtractor
	metrics      Metrics
	logger       log.Logger

	fifo               []RawRecord
	head               head
	partitionTime      int64
	totalBytesBuffered int64
}

// NewRecordQueue constructs an empty queue for (topic, partition).
func NewRecordQueue(topic string, partition int32, deserializer Deserializer, extractor TimestampExtractor, metrics Metrics, logger log.Logger) *RecordQueue {
	return &RecordQueue{
		topic:         topic,
		partition:     partition,
		deserializer:  deserializer,
		extractor:     extractor,
		metrics:       metrics,
		logger:        logger,
		partitionTime: UnknownTimestamp,
	}
}

// Source is the topic this queue buffers records for.
func (q *RecordQueue) Source() string { return q.topic }

// Partition is the partition index this queue buffers records for.
func (q *RecordQueue) Partition() int32 { return q.partition }

// PartitionTime is the largest valid timestamp seen so far, or
// UnknownTimestamp if none has been observed yet.
func (q *RecordQueue) PartitionTime() int64 { return q.partitionTime }

// SetPartitionTime overrides the running partition time, used when
// restoring from a checkpoint.
func (q *RecordQueue) SetPartitionTime(t int64) { q.partitionTime = t }

// Size is the FIFO length plus one if a head is currently materialized
// (spec §4.2, §8 invariant 4).
func (q *RecordQueue) Size() int {
	n := len(q.fifo)
	if !q.head.isEmpty() {
		n++
	}
	return n
}

// IsEmpty reports Size() == 0 (spec §8 invariant 4).
func (q *RecordQueue) IsEmpty() bool { return q.Size() == 0 }

// GetTotalBytesBuffered is the running sum of encoded sizes of every raw
// record currently buffered, including the materialized head.
func (q *RecordQueue) GetTotalBytesBuffered() int64 { return q.totalBytesBuffered }

// HeadRecordTimestamp returns the head's extracted timestamp, or
// UnknownTimestamp if no head is materialized or the head is corrupted.
func (q *RecordQueue) HeadRecordTimestamp() int64 {
	if q.head.stamped != nil {
		return q.head.stamped.Timestamp
	}
	return UnknownTimestamp
}

// HeadRecordOffset returns the head's offset, or -1 if no head is
// materialized.
func (q *RecordQueue) HeadRecordOffset() int64 {
	switch {
	case q.head.stamped != nil:
		return q.head.stamped.Record.Offset
	case q.head.corrupted != nil:
		return q.head.corrupted.Offset
	default:
		return -1
	}
}

// AddRawRecords appends each record to the tail, accounts for its encoded
// size, then runs updateHead, returning the resulting Size() (spec §4.2).
func (q *RecordQueue) AddRawRecords(records []RawRecord) (int, error) {
	for _, r := range records {
		q.fifo = append(q.fifo, r)
		q.totalBytesBuffered += r.EncodedSize()
	}
	if err := q.updateHead(); err != nil {
		return q.Size(), err
	}
	return q.Size(), nil
}

// Poll requires a materialized head; it is a usage error to call it on an
// empty queue (spec §4.2: "Polling with no head is a usage error"). It
// takes the head, folds its timestamp into partitionTime, clears it, and
// runs updateHead to materialize the next one.
func (q *RecordQueue) Poll() (StampedRecord, error) {
	if q.head.isEmpty() {
		return StampedRecord{}, fmt.Errorf("streams: poll called on empty record queue for %s-%d", q.topic, q.partition)
	}

	var out StampedRecord
	var pollErr error
	switch {
	case q.head.stamped != nil:
		out = *q.head.stamped
		if out.Timestamp > q.partitionTime {
			q.partitionTime = out.Timestamp
		}
	case q.head.corrupted != nil:
		pollErr = fmt.Errorf("streams: poll called on corrupted head for %s-%d@%d", q.topic, q.partition, q.head.corrupted.Offset)
	}

	// Clear the head and re-run updateHead regardless of which branch hit,
	// so a corrupted head never stalls the queue (spec §4.2/§7, invariant
	// 6): the consumer advances past the poison entry once it polls it.
	q.totalBytesBuffered -= q.head.size
	q.head = head{}

	if err := q.updateHead(); err != nil {
		return out, err
	}
	return out, pollErr
}

// Clear drops all buffered and head state and resets partitionTime to
// UnknownTimestamp.
func (q *RecordQueue) Clear() {
	q.fifo = nil
	q.head = head{}
	q.totalBytesBuffered = 0
	q.partitionTime = UnknownTimestamp
}

// updateHead is the only place deserialization and timestamp extraction
// occur (spec §4.2). It drains the FIFO until a head is materialized or the
// FIFO runs dry, skipping and tracking the last undecodable record so a
// CorruptedRecord can be installed if nothing else decodes.
func (q *RecordQueue) updateHead() error {
	var lastCorrupted *RawRecord

	for q.head.isEmpty() && len(q.fifo) > 0 {
		raw := q.fifo[0]
		q.fifo = q.fifo[1:]

		decoded, skip, err := q.deserializer.Deserialize(raw)
		if skip {
			r := raw
			lastCorrupted = &r
			continue
		}
		if err != nil {
			r := raw
			lastCorrupted = &r
			continue
		}

		timestamp, err := q.extractor.Extract(decoded, q.partitionTime)
		if err != nil {
			if fe, ok := err.(*FrameworkError); ok {
				return newFrameworkError(raw, fe.Unwrap())
			}
			return newWrappedError(raw, err)
		}

		if timestamp < 0 {
			if q.metrics != nil {
				q.metrics.IncrDroppedRecords(1)
			}
			q.logger.Warn("dropping record with negative timestamp",
				log.String("topic", raw.Topic),
				log.Int32("partition", raw.Partition),
				log.Int64("offset", raw.Offset),
				log.Int64("timestamp", timestamp),
			)
			continue
		}

		q.head = head{stamped: &StampedRecord{Record: decoded, Timestamp: timestamp}, size: raw.EncodedSize()}
	}

	if q.head.isEmpty() && lastCorrupted != nil {
		q.head = head{corrupted: &CorruptedRecord{
			Topic:     lastCorrupted.Topic,
			Partition: lastCorrupted.Partition,
			Offset:    lastCorrupted.Offset,
		}, size: lastCorrupted.EncodedSize()}
	}

	return nil
}
