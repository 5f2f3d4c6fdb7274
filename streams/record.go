// Package streams implements the per-partition record queue: a FIFO of raw
// records that lazily deserializes, validates, and exposes a one-record
// lookahead (spec §4.2), grounded on jocko's commitlog record shapes and
// sarama's ConsumerMessage.
package streams

// UnknownTimestamp is the sentinel partition time before any record has been
// polled, and the headRecordTimestamp value when no head is materialized.
const UnknownTimestamp int64 = -1

// RecordHeader is one key/value header entry carried by a raw record.
type RecordHeader struct {
	Key   string
	Value []byte
}

// RawRecord is the undecoded record appended to a RecordQueue by
// addRawRecords -- the ConsumerRecord<bytes,bytes> of spec §6.
type RawRecord struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp int64
	Key       []byte
	Value     []byte
	Headers   []RecordHeader
}

// EncodedSize is the accounting formula of spec §4.2: serializedKeySize +
// serializedValueSize + 8 (timestamp) + 8 (offset) + utf8Len(topic) +
// 4 (partition) + sum over headers of (utf8Len(key) + len(value)).
func (r RawRecord) EncodedSize() int64 {
	size := int64(len(r.Key)) + int64(len(r.Value)) + 8 + 8 + int64(len(r.Topic)) + 4
	for _, h := range r.Headers {
		size += int64(len(h.Key))
		if h.Value != nil {
			size += int64(len(h.Value))
		}
	}
	return size
}

// DecodedRecord is the record produced by the deserializer from a RawRecord.
// What it actually holds beyond the raw bytes is up to the deserializer;
// here it carries the decoded key/value pair, which is all the timestamp
// extractor and the caller need.
type DecodedRecord struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       interface{}
	Value     interface{}
	Headers   []RecordHeader
}

// StampedRecord is a decoded record paired with an extracted timestamp >= 0
// (spec §3).
type StampedRecord struct {
	Record    DecodedRecord
	Timestamp int64
}

// CorruptedRecord is a decoded-failure placeholder carrying only the
// original raw record's identity, letting the consumer advance committed
// offsets past poison entries (spec §3).
type CorruptedRecord struct {
	Topic     string
	Partition int32
	Offset    int64
}
