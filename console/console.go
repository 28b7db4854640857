// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package console defines the opaque byte-oriented sink the core
// subsystems use for diagnostics (heap corruption reports, leak scans,
// scheduler statistics), and a structured logger on top of it.
//
// The sink itself carries no formatting contract beyond UTF-8-clean
// ASCII; the structured layer is local to tradekernel and is how the
// allocator and scheduler actually call into the sink.
package console

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Sink is the boundary to the external console/framebuffer driver:
// a plain byte writer, nothing more.
type Sink = io.Writer

// Logger is the structured diagnostic logger every core subsystem
// accepts. A nil *Logger is valid and discards everything, so
// constructors that take one never need a separate "no logging" path.
type Logger = logiface.Logger[*stumpy.Event]

// New builds a Logger writing stumpy-encoded records to sink.
func New(sink Sink) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(sink)),
	)
}

// Discard is a Logger that drops every record; useful in tests and as
// the default for constructors given a nil logger.
var Discard = New(io.Discard)

// Stdout is a convenience Logger writing to os.Stdout, the default
// sink used by cmd/kernelsim.
func Stdout() *Logger { return New(os.Stdout) }

// orDiscard returns l, or Discard if l is nil. Every core subsystem
// routes its logger field through this before use.
func orDiscard(l *Logger) *Logger {
	if l == nil {
		return Discard
	}
	return l
}

// Or returns l if non-nil, else Discard. Exported so mem/sched/ipc can
// normalize a constructor argument without duplicating the nil check.
func Or(l *Logger) *Logger { return orDiscard(l) }
