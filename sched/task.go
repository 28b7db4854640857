// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sched implements the priority-preemptive task scheduler:
// five priority classes, per-priority FIFO ready queues, round-robin
// time slicing within a priority, and a mandatory idle task.
package sched

import (
	"sync/atomic"
)

// Priority is one of five scheduling classes, ordered by decreasing
// urgency. Realtime is numerically first so that "lower number wins"
// falls out of an ordinary integer comparison.
type Priority int

const (
	Realtime Priority = iota
	High
	Normal
	Low
	Idle
)

func (p Priority) String() string {
	switch p {
	case Realtime:
		return "realtime"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}

// numPriorities is the number of ready queues the scheduler maintains.
const numPriorities = int(Idle) + 1

// Policy selects how a task's time slice is enforced within its
// priority class.
type Policy int

const (
	FIFO Policy = iota
	RoundRobin
)

func (p Policy) String() string {
	if p == RoundRobin {
		return "round-robin"
	}
	return "fifo"
}

// State is a task's position in its lifecycle.
type State int

const (
	StateNew State = iota
	StateReady
	StateRunning
	StateBlocked
	StateSleeping
	StateZombie
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateSleeping:
		return "sleeping"
	case StateZombie:
		return "zombie"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// maxNameLen bounds Task.Name to a short human-readable label.
const maxNameLen = 31

// Entry is a task's body. It must call Checkpoint periodically (at
// every point it would be willing to give up the CPU); the scheduler
// only ever regains control at a Checkpoint call, round, round, the
// same way the original kernel only regains control at a timer tick
// or an explicit syscall.
type Entry func(t *Task)

// Task is the scheduler's process control block. Rather than saving
// and restoring a raw CPU register context, each Task owns one
// goroutine running Entry, parked on an unbuffered channel that only
// the scheduler signals — the closest safe analogue Go offers to a
// suspended machine context. Entry never sees the channels directly;
// it cooperates purely by calling Checkpoint.
type Task struct {
	ID       uint32
	ParentID uint32
	Name     string

	State    State
	Priority Priority
	Policy   Policy

	Entry Entry
	Stack []byte

	CreatedTick      uint64
	AccumulatedTicks uint64
	LastRunTick      uint64
	SliceLen         uint32
	RemainingSlice   uint32

	Parent   *Task
	Children []*Task

	// prev/next are the scheduler's intrusive ready-queue links; a Task
	// is a member of at most one queue at a time.
	prev, next *Task
	inQueue    bool

	ExitCode int

	ContextSwitches uint64
	Syscalls        uint64
	IOOps           uint64

	sched *Scheduler // owning scheduler, set by Scheduler.Spawn; nil for a task not yet spawned

	token   chan struct{} // scheduler -> task: "you may proceed"
	paused  chan struct{} // task -> scheduler: "I have stopped at a checkpoint"
	exited  chan struct{} // closed when Entry returns
	pause   atomic.Bool   // scheduler requests the task pause at its next checkpoint
	started atomic.Bool
}

func truncateName(name string) string {
	if len(name) <= maxNameLen {
		return name
	}
	return name[:maxNameLen]
}

// NewTask constructs a Task in state New. stack is an allocation
// obtained from a mem.Heap or mem.Pool by the caller; sliceLen is the
// number of ticks a RoundRobin task may run before mandatory
// preemption (ignored for FIFO tasks).
func NewTask(id, parentID uint32, name string, priority Priority, policy Policy, sliceLen uint32, stack []byte, entry Entry) *Task {
	return &Task{
		ID:             id,
		ParentID:       parentID,
		Name:           truncateName(name),
		State:          StateNew,
		Priority:       priority,
		Policy:         policy,
		Entry:          entry,
		Stack:          stack,
		SliceLen:       sliceLen,
		RemainingSlice: sliceLen,
		token:          make(chan struct{}),
		paused:         make(chan struct{}),
		exited:         make(chan struct{}),
	}
}

// Checkpoint is the one suspension point Entry must call from inside
// any loop it does not want the scheduler to treat as uninterruptible.
// If the scheduler has requested this task pause, Checkpoint
// acknowledges the pause and blocks until the scheduler grants the
// token again.
func (t *Task) Checkpoint() {
	if t.pause.CompareAndSwap(true, false) {
		t.paused <- struct{}{}
		<-t.token
	}
}

// start launches Entry on its own goroutine the first time the task is
// granted the token. Subsequent grants just unblock an existing
// Checkpoint call; start is idempotent.
func (t *Task) start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		<-t.token
		t.Entry(t)
		close(t.exited)
	}()
}

// requestPause asks a running task to stop at its next Checkpoint and
// blocks until it does (or until it exits entirely, whichever first).
func (t *Task) requestPause() {
	t.pause.Store(true)
	select {
	case <-t.paused:
	case <-t.exited:
	}
}

// resume hands the task the run token, starting its goroutine on the
// first call.
func (t *Task) resume() {
	t.start()
	select {
	case t.token <- struct{}{}:
	case <-t.exited:
	}
}

// Exited reports whether Entry has returned.
func (t *Task) Exited() bool {
	select {
	case <-t.exited:
		return true
	default:
		return false
	}
}

// Yield relinquishes the CPU voluntarily. It must be called from
// within t's own Entry.
func (t *Task) Yield() {
	if t.sched != nil {
		t.sched.Yield(t)
	}
}

// Block transitions t to Blocked, off the CPU, until a later call to
// Unblock. It must be called from within t's own Entry.
func (t *Task) Block() {
	if t.sched != nil {
		t.sched.Block(t)
	}
}

// Exit terminates t with the given exit code. It must be called from
// within t's own Entry as the last thing it does before returning.
func (t *Task) Exit(code int) {
	if t.sched != nil {
		t.sched.Exit(t, code)
	}
}

// Wake moves a Blocked task back to Ready. Unlike Yield/Block/Exit it
// is meant to be called from outside t's own Entry — typically by
// whatever woke the condition t was waiting on (an ipc.Registry
// delivering a message, say).
func (t *Task) Wake() {
	if t.sched != nil {
		t.sched.Unblock(t)
	}
}
