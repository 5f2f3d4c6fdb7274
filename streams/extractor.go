package streams

// FrameworkError, when returned by a TimestampExtractor, marks the failure
// as framework-fatal: RecordQueue returns its cause unchanged inside an
// ExtractorError whose IsFramework reports true (spec §4.2, §7). An error
// returned by a Deserializer, FrameworkError or not, is treated as an
// undecodable record, the same as skip.
type FrameworkError struct {
	cause error
}

// NewFrameworkError wraps cause as a framework-fatal error.
func NewFrameworkError(cause error) *FrameworkError { return &FrameworkError{cause: cause} }

func (e *FrameworkError) Error() string { return e.cause.Error() }
func (e *FrameworkError) Unwrap() error { return e.cause }

// Deserializer decodes a RawRecord. skip reports the deserializer's
// configured policy for undecodable input: when true, the record is
// recorded as lastCorrupted and the queue moves on (spec §4.2); a non-nil
// err is handled the same way.
type Deserializer interface {
	Deserialize(raw RawRecord) (decoded DecodedRecord, skip bool, err error)
}

// TimestampExtractor derives a record's timestamp. partitionTime is the
// queue's running high-water mark at the time of the call, passed through
// so extractors that need "largest timestamp seen so far" (e.g. to fall
// back to it) do not need their own state.
type TimestampExtractor interface {
	Extract(record DecodedRecord, partitionTime int64) (timestamp int64, err error)
}

// DeserializationExceptionHandler is consulted by the default Deserializer
// wiring described in spec §4.2; it is not invoked by RecordQueue itself,
// which only distinguishes skip from fatal.
type DeserializationExceptionHandler interface {
	Handle(raw RawRecord, cause error) (skip bool)
}
