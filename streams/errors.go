package streams

import "fmt"

// ExtractorError is raised when a TimestampExtractor fails; both variants
// terminate the owning task. IsFramework reports whether the extractor
// itself raised a framework exception (re-raised verbatim) as opposed to an
// arbitrary user error (wrapped with record context before raising).
type ExtractorError struct {
	Topic     string
	Partition int32
	Offset    int64
	framework bool
	cause     error
}

// IsFramework reports whether this error originated from the extractor's
// own framework-fatal contract, as opposed to being wrapped from an
// arbitrary user-code error. A panic in the extractor is not recovered and
// never becomes an ExtractorError.
func (e *ExtractorError) IsFramework() bool { return e.framework }

func (e *ExtractorError) Error() string {
	return fmt.Sprintf("extractor error for %s-%d@%d: %v", e.Topic, e.Partition, e.Offset, e.cause)
}

func (e *ExtractorError) Unwrap() error { return e.cause }

// newFrameworkError carries a framework exception's cause unchanged,
// identified by record, with IsFramework reporting true.
func newFrameworkError(r RawRecord, cause error) *ExtractorError {
	return &ExtractorError{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset, framework: true, cause: cause}
}

// newWrappedError wraps a non-framework extractor failure with context
// identifying the record. It still terminates the owning task, but
// IsFramework reports false since the extractor itself did not raise a
// framework exception.
func newWrappedError(r RawRecord, cause error) *ExtractorError {
	return &ExtractorError{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset, framework: false, cause: cause}
}
