// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package kerr defines the error-kind sum type shared by every core
// subsystem: the allocator, the scheduler, and the two IPC transports.
//
// A nil error means success. A non-nil error always wraps exactly one
// Kind, retrievable with KindOf(err). KindOf(nil) is Ok.
package kerr

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

// Kind classifies a core-operation failure.
type Kind uint8

const (
	// Ok is the zero Kind; Kind(nil) returns it.
	Ok Kind = iota
	// OutOfMemory: the heap or a pool has no block large enough.
	OutOfMemory
	// InvalidArgument: a null pointer, zero size, or unknown id/key was given
	// where one is disallowed.
	InvalidArgument
	// HeapCorruption: a block's guard word does not match ALLOCATED_MAGIC or FREED_MAGIC.
	HeapCorruption
	// DoubleFree: free() was called on a block already carrying FREED_MAGIC.
	DoubleFree
	// AlreadyExists: an IPC object was requested for creation under a key that is already in use.
	AlreadyExists
	// QueueFull: a message queue has no room for another message.
	QueueFull
	// QueueEmpty: a message queue has nothing to receive.
	QueueEmpty
	// NotFound: kill/wait/queue_ctl referenced an id that does not exist.
	NotFound
	// WouldBlock aliases iox.ErrWouldBlock's classification; see WouldBlockErr below.
	WouldBlock
	// Permission is reserved for future use; the permissions field on IPC
	// objects is stored but never enforced in this implementation.
	Permission
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case OutOfMemory:
		return "out of memory"
	case InvalidArgument:
		return "invalid argument"
	case HeapCorruption:
		return "heap corruption"
	case DoubleFree:
		return "double free"
	case AlreadyExists:
		return "already exists"
	case QueueFull:
		return "queue full"
	case QueueEmpty:
		return "queue empty"
	case NotFound:
		return "not found"
	case WouldBlock:
		return "would block"
	case Permission:
		return "permission"
	default:
		return "unknown error kind"
	}
}

// kindError binds a Kind to an optional message.
type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string {
	if e.msg == "" {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.msg
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Of returns the bare sentinel error for a kind (no message).
func Of(kind Kind) error {
	return &kindError{kind: kind}
}

// KindOf extracts the Kind carried by err. It returns Ok for a nil
// error, and recognizes iox.ErrWouldBlock (via errors.Is) as WouldBlock
// even though that sentinel is not a *kindError.
func KindOf(err error) Kind {
	if err == nil {
		return Ok
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	if errors.Is(err, iox.ErrWouldBlock) {
		return WouldBlock
	}
	return Ok
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// WouldBlockErr is the shared "try again" sentinel, reused directly from
// iox rather than re-declared, so that callers composing tradekernel
// with other code.hybscloud.com packages can test with a single
// errors.Is check across the whole stack.
var WouldBlockErr = iox.ErrWouldBlock
