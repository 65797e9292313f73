// Package dftidxerr defines the error taxonomy shared by every dftidx
// component. Callers are expected to distinguish failure modes with
// errors.Is/errors.As against the Kind constants rather than string
// matching, while the underlying cause (wrapped via github.com/pkg/errors)
// is still available for logging.
package dftidxerr

import "fmt"

// Kind classifies a dftidx error into one of the categories a caller might
// need to branch on.
type Kind int

const (
	// KindNotFound means a referenced path, file ID, or index entry
	// doesn't exist.
	KindNotFound Kind = iota
	// KindStaleIndex means the on-disk index no longer matches its
	// source gzip file (size or mtime fingerprint mismatch).
	KindStaleIndex
	// KindCorruptIndex means the on-disk index file failed its own
	// structural checks (bad magic, truncated record, version mismatch).
	KindCorruptIndex
	// KindCorruptStream means the gzip/deflate payload itself is
	// malformed.
	KindCorruptStream
	// KindOutOfRange means a requested byte or line range falls outside
	// what the source actually contains.
	KindOutOfRange
	// KindIO wraps an underlying filesystem or I/O failure.
	KindIO
	// KindInvalid means the caller's arguments are nonsensical
	// (e.g. start > end, a zero checkpoint interval).
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindStaleIndex:
		return "stale_index"
	case KindCorruptIndex:
		return "corrupt_index"
	case KindCorruptStream:
		return "corrupt_stream"
	case KindOutOfRange:
		return "out_of_range"
	case KindIO:
		return "io_error"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error is a dftidx error tagged with a Kind, so callers can branch on the
// failure category with errors.As while still unwrapping to the original
// cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dftidx: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("dftidx: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, dftidxerr.New(KindOutOfRange, "", nil)) style checks work;
// callers more commonly use the package-level Is(err, kind) helper below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind wrapping cause (which may be nil).
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(msg string, cause error) error      { return New(KindNotFound, msg, cause) }
func StaleIndex(msg string, cause error) error     { return New(KindStaleIndex, msg, cause) }
func CorruptIndex(msg string, cause error) error   { return New(KindCorruptIndex, msg, cause) }
func CorruptStream(msg string, cause error) error  { return New(KindCorruptStream, msg, cause) }
func OutOfRange(msg string, cause error) error     { return New(KindOutOfRange, msg, cause) }
func IO(msg string, cause error) error             { return New(KindIO, msg, cause) }
func Invalid(msg string, cause error) error        { return New(KindInvalid, msg, cause) }

// Is reports whether err (or anything it wraps) is a dftidx error of kind k.
func Is(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == k
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
