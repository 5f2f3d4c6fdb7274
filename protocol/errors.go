package protocol

// Error is a protocol-level error code, mirroring the Kafka wire protocol's
// error code convention: per-partition/per-topic failures never surface as
// Go errors, they are encoded in the response as one of these (see
// spec §4.1, §7). It is comparable, so callers can compare against the
// package-level sentinels directly.
type Error struct {
	code int16
	msg  string
	err  error
}

// Code returns the wire error code for e.
func (e Error) Code() int16 { return e.code }

func (e Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

// WithErr attaches an underlying Go error to e for logging, keeping the
// same wire code.
func (e Error) WithErr(err error) Error {
	e.err = err
	return e
}

// Is reports whether e and other carry the same wire code, ignoring any
// attached underlying error.
func (e Error) Is(other Error) bool { return e.code == other.code }

var (
	ErrNone                     = Error{code: 0, msg: "none"}
	ErrUnknown                  = Error{code: -1, msg: "unknown error"}
	ErrUnknownTopicOrPartition  = Error{code: 3, msg: "unknown topic or partition"}
	ErrLeaderNotAvailable       = Error{code: 5, msg: "leader not available"}
	ErrNotLeaderForPartition    = Error{code: 6, msg: "not leader for partition"}
	ErrReplicaNotAvailable      = Error{code: 9, msg: "replica not available"}
	ErrNotController            = Error{code: 41, msg: "not controller"}
	ErrInvalidReplicationFactor = Error{code: 38, msg: "invalid replication factor"}
	ErrTopicAlreadyExists       = Error{code: 36, msg: "topic already exists"}
	ErrListenerNotFound         = Error{code: 72, msg: "listener not found"}
)
