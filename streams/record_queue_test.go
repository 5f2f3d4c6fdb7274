package streams_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shoalbroker/shoal/log"
	"github.com/shoalbroker/shoal/streams"
)

// identityDeserializer decodes every record, unless its offset is listed in
// skipOffsets, in which case it reports skip.
type identityDeserializer struct {
	skipOffsets map[int64]bool
}

func (d identityDeserializer) Deserialize(raw streams.RawRecord) (streams.DecodedRecord, bool, error) {
	if d.skipOffsets[raw.Offset] {
		return streams.DecodedRecord{}, true, nil
	}
	return streams.DecodedRecord{
		Topic:     raw.Topic,
		Partition: raw.Partition,
		Offset:    raw.Offset,
		Key:       raw.Key,
		Value:     raw.Value,
	}, false, nil
}

// fixedExtractor returns the timestamp the test configured for the record's
// offset, or 0 for an offset with no entry.
type fixedExtractor struct {
	byOffset map[int64]int64
}

func (e fixedExtractor) Extract(r streams.DecodedRecord, _ int64) (int64, error) {
	return e.byOffset[r.Offset], nil
}

type erroringExtractor struct {
	framework bool
	err       error
}

func (e erroringExtractor) Extract(streams.DecodedRecord, int64) (int64, error) {
	if e.framework {
		return 0, streams.NewFrameworkError(e.err)
	}
	return 0, e.err
}

func newQueue(t *testing.T, extractor streams.TimestampExtractor, skip map[int64]bool) *streams.RecordQueue {
	t.Helper()
	return streams.NewRecordQueue("T", 0, identityDeserializer{skipOffsets: skip}, extractor, nil, log.NewRecording())
}

// S4: mixed corruption.
func TestAddRawRecords_MixedCorruption(t *testing.T) {
	extractor := fixedExtractor{byOffset: map[int64]int64{0: 10, 2: 5}}
	q := newQueue(t, extractor, map[int64]bool{1: true})

	_, err := q.AddRawRecords([]streams.RawRecord{
		{Topic: "T", Partition: 0, Offset: 0},
		{Topic: "T", Partition: 0, Offset: 1},
		{Topic: "T", Partition: 0, Offset: 2},
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), q.HeadRecordTimestamp())

	rec, err := q.Poll()
	require.NoError(t, err)
	require.Equal(t, int64(0), rec.Record.Offset)
	require.Equal(t, int64(10), rec.Timestamp)

	require.Equal(t, int64(5), q.HeadRecordTimestamp())
	require.Equal(t, int64(10), q.PartitionTime())

	rec, err = q.Poll()
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Record.Offset)
	require.Equal(t, int64(5), rec.Timestamp)
	require.Equal(t, int64(10), q.PartitionTime())

	require.True(t, q.IsEmpty())
}

// S5: negative timestamp drop.
func TestAddRawRecords_NegativeTimestampDropped(t *testing.T) {
	dropped := &countingMetrics{}
	extractor := fixedExtractor{byOffset: map[int64]int64{0: -7}}
	q := streams.NewRecordQueue("T", 0, identityDeserializer{}, extractor, dropped, log.NewRecording())

	_, err := q.AddRawRecords([]streams.RawRecord{{Topic: "T", Partition: 0, Offset: 0}})
	require.NoError(t, err)
	require.True(t, q.IsEmpty())
	require.Equal(t, int64(1), dropped.count)
}

// Invariant 6: all-undecodable batch yields a CorruptedRecord head.
func TestAddRawRecords_AllUndecodableYieldsCorruptedHead(t *testing.T) {
	q := newQueue(t, fixedExtractor{}, map[int64]bool{0: true, 1: true})

	size, err := q.AddRawRecords([]streams.RawRecord{
		{Topic: "T", Partition: 0, Offset: 0},
		{Topic: "T", Partition: 0, Offset: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 1, size)
	require.Equal(t, streams.UnknownTimestamp, q.HeadRecordTimestamp())
	require.Equal(t, int64(1), q.HeadRecordOffset())
	require.False(t, q.IsEmpty())
}

// Polling a corrupted head must advance the queue, not stall it: the whole
// point of CorruptedRecord is to let a consumer skip past poison entries.
func TestPollPastCorruptedHeadResumesDraining(t *testing.T) {
	extractor := fixedExtractor{byOffset: map[int64]int64{2: 7}}
	q := newQueue(t, extractor, map[int64]bool{0: true, 1: true})

	size, err := q.AddRawRecords([]streams.RawRecord{
		{Topic: "T", Partition: 0, Offset: 0},
		{Topic: "T", Partition: 0, Offset: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 1, size)
	require.Equal(t, int64(1), q.HeadRecordOffset())

	// A decodable record arrives behind the corrupted head; it must stay
	// queued until the corrupted head is polled off.
	size, err = q.AddRawRecords([]streams.RawRecord{{Topic: "T", Partition: 0, Offset: 2}})
	require.NoError(t, err)
	require.Equal(t, 2, size)
	require.Equal(t, int64(1), q.HeadRecordOffset())

	rec, err := q.Poll()
	require.Error(t, err)
	require.Equal(t, streams.StampedRecord{}, rec)

	require.False(t, q.IsEmpty())
	require.Equal(t, int64(2), q.HeadRecordOffset())
	require.Equal(t, int64(7), q.HeadRecordTimestamp())

	rec, err = q.Poll()
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Record.Offset)
	require.True(t, q.IsEmpty())
}

// Invariant 4: size() == fifo length + (head present ? 1 : 0).
func TestSizeAccounting(t *testing.T) {
	extractor := fixedExtractor{byOffset: map[int64]int64{2: 1}}
	q := newQueue(t, extractor, nil)

	require.True(t, q.IsEmpty())
	_, err := q.AddRawRecords([]streams.RawRecord{
		{Topic: "T", Partition: 0, Offset: 0},
		{Topic: "T", Partition: 0, Offset: 1},
		{Topic: "T", Partition: 0, Offset: 2},
	})
	require.NoError(t, err)
	// offsets 0 and 1 have no extracted timestamp configured (defaults to
	// 0, which is >= 0 so they decode fine); only one head is ever
	// materialized at a time, with the rest buffered in the FIFO.
	require.Equal(t, 3, q.Size())
}

func TestPollOnEmptyQueueIsUsageError(t *testing.T) {
	q := newQueue(t, fixedExtractor{}, nil)
	_, err := q.Poll()
	require.Error(t, err)
}

func TestClearResetsPartitionTime(t *testing.T) {
	extractor := fixedExtractor{byOffset: map[int64]int64{0: 10}}
	q := newQueue(t, extractor, nil)
	_, err := q.AddRawRecords([]streams.RawRecord{{Topic: "T", Partition: 0, Offset: 0}})
	require.NoError(t, err)
	_, err = q.Poll()
	require.NoError(t, err)
	require.Equal(t, int64(10), q.PartitionTime())

	q.Clear()
	require.True(t, q.IsEmpty())
	require.Equal(t, streams.UnknownTimestamp, q.PartitionTime())
	require.Equal(t, int64(0), q.GetTotalBytesBuffered())
}

func TestExtractorFrameworkErrorReraisedVerbatim(t *testing.T) {
	cause := errors.New("boom")
	q := newQueue(t, erroringExtractor{framework: true, err: cause}, nil)
	_, err := q.AddRawRecords([]streams.RawRecord{{Topic: "T", Partition: 0, Offset: 0}})
	require.Error(t, err)
	var extractorErr interface{ IsFramework() bool }
	require.ErrorAs(t, err, &extractorErr)
	require.True(t, extractorErr.IsFramework())
	require.ErrorIs(t, err, cause)
}

func TestExtractorUserErrorWrappedAsFrameworkFatal(t *testing.T) {
	cause := errors.New("bad user code")
	q := newQueue(t, erroringExtractor{framework: false, err: cause}, nil)
	_, err := q.AddRawRecords([]streams.RawRecord{{Topic: "T", Partition: 0, Offset: 0}})
	require.Error(t, err)
	var extractorErr interface{ IsFramework() bool }
	require.ErrorAs(t, err, &extractorErr)
	require.False(t, extractorErr.IsFramework())
	require.ErrorIs(t, err, cause)
}

type countingMetrics struct {
	count int64
}

func (m *countingMetrics) IncrDroppedRecords(delta int64) { m.count += delta }
