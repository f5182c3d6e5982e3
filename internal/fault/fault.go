// SPDX-License-Identifier: MIT

// Package fault models the small, closed set of outcome kinds the engine and
// its collaborators exchange. Call sites branch on KindOf rather than on
// string matching, and every kind has exactly one HTTP disposition.
package fault

import (
	"errors"
	"fmt"
)

// Kind is a compact, typed failure signal. Keep these stable: metrics and
// client UX depend on them.
type Kind uint8

const (
	// KindNone marks a nil or foreign error.
	KindNone Kind = iota
	// KindNotFound covers unknown tracks, sessions and fingerprints.
	KindNotFound
	// KindBackendUnavailable covers latent-service outages and timeouts of
	// the latent child. Never user-visible; callers fall back.
	KindBackendUnavailable
	// KindInvalidArgument covers malformed client input.
	KindInvalidArgument
	// KindTimedOut covers soft deadlines (prepare-next and friends).
	KindTimedOut
	// KindUnavailable covers registry exhaustion and shutdown windows.
	KindUnavailable
	// KindPayloadTooLarge covers oversized request bodies.
	KindPayloadTooLarge
	// KindGone covers deprecated endpoints.
	KindGone
	// KindDecodeFailed covers lane decode failures; internal to the mixer
	// and engine retry path.
	KindDecodeFailed
	// KindInternal is the residual bucket.
	KindInternal
)

// String returns the stable wire label for the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindTimedOut:
		return "timed_out"
	case KindUnavailable:
		return "unavailable"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindGone:
		return "gone"
	case KindDecodeFailed:
		return "decode_failed"
	default:
		return "internal"
	}
}

// Fault is an error carrying a Kind, the operation that produced it, and an
// optional wrapped cause.
type Fault struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (f *Fault) Error() string {
	switch {
	case f.Msg != "" && f.Err != nil:
		return fmt.Sprintf("%s: %s: %v", f.Op, f.Msg, f.Err)
	case f.Msg != "":
		return fmt.Sprintf("%s: %s", f.Op, f.Msg)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Op, f.Err)
	default:
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
}

func (f *Fault) Unwrap() error { return f.Err }

// Is lets errors.Is match two faults by kind.
func (f *Fault) Is(target error) bool {
	var t *Fault
	if errors.As(target, &t) {
		return f.Kind == t.Kind
	}
	return false
}

// New builds a fault with a formatted message.
func New(kind Kind, op, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an underlying error.
func Wrap(kind Kind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

// NotFound builds a not-found fault.
func NotFound(op, format string, args ...any) *Fault {
	return New(KindNotFound, op, format, args...)
}

// BackendUnavailable builds a backend-unavailable fault.
func BackendUnavailable(op string, err error) *Fault {
	return &Fault{Kind: KindBackendUnavailable, Op: op, Err: err}
}

// InvalidArgument builds an invalid-argument fault.
func InvalidArgument(op, format string, args ...any) *Fault {
	return New(KindInvalidArgument, op, format, args...)
}

// TimedOut builds a timed-out fault.
func TimedOut(op string, err error) *Fault {
	return &Fault{Kind: KindTimedOut, Op: op, Err: err}
}

// Unavailable builds an unavailable fault.
func Unavailable(op, format string, args ...any) *Fault {
	return New(KindUnavailable, op, format, args...)
}

// Gone builds a deprecated-endpoint fault.
func Gone(op, format string, args ...any) *Fault {
	return New(KindGone, op, format, args...)
}

// DecodeFailed builds a decode-failed fault for the given track.
func DecodeFailed(op, trackID string, err error) *Fault {
	return &Fault{Kind: KindDecodeFailed, Op: op, Msg: trackID, Err: err}
}

// KindOf extracts the kind from err, unwrapping as needed. Nil maps to
// KindNone; unrecognized errors map to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
