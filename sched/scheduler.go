// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"fmt"
	"sync"

	"code.hybscloud.com/tradekernel/abi"
	"code.hybscloud.com/tradekernel/console"
	"code.hybscloud.com/tradekernel/kerr"
)

// Scheduler owns the ready queues, the blocked and terminated sets,
// and the notion of which Task is current. There is exactly one
// Scheduler per simulated machine; it is not itself reentrant from two
// goroutines issuing Tick concurrently, the same single-CPU assumption
// the scheduling model is built around.
type Scheduler struct {
	mu sync.Mutex

	ready [numPriorities]readyQueue
	tasks map[uint32]*Task

	blocked     []*Task
	terminated  []*Task
	current     *Task
	idle        *Task
	nextTaskID  uint32

	ticks           uint64
	contextSwitches uint64

	loadAvg     uint32
	lastLoadTick uint64

	log *console.Logger
}

// New creates an empty Scheduler. Call SetIdle before Start.
func New(log *console.Logger) *Scheduler {
	return &Scheduler{
		tasks:      make(map[uint32]*Task),
		nextTaskID: 1, // id 0 is reserved for idle
		log:        console.Or(log),
	}
}

// SetIdle installs the mandatory idle task, reserving id 0 for it.
// The idle task is never enqueued in a ready queue; it is
// pickNext's fallback when every other queue is empty.
func (s *Scheduler) SetIdle(stack []byte, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = NewTask(0, 0, "idle", Idle, FIFO, 0, stack, entry)
	s.idle.sched = s
	s.tasks[0] = s.idle
}

// Spawn creates a task entry in state New, assigns it the next task
// id, and enqueues it Ready. priority must not be Idle, which is
// reserved for the singleton idle task.
func (s *Scheduler) Spawn(parentID uint32, name string, priority Priority, policy Policy, sliceLen uint32, stack []byte, entry Entry) (*Task, error) {
	if priority == Idle {
		return nil, kerr.New(kerr.InvalidArgument, "priority class idle is reserved for the idle task")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var parent *Task
	if parentID != 0 {
		var ok bool
		parent, ok = s.tasks[parentID]
		if !ok {
			return nil, kerr.New(kerr.NotFound, "parent task %d not found", parentID)
		}
	}

	id := s.nextTaskID
	s.nextTaskID++

	t := NewTask(id, parentID, name, priority, policy, sliceLen, stack, entry)
	t.sched = s
	t.CreatedTick = s.ticks
	t.Parent = parent
	if parent != nil {
		parent.Children = append(parent.Children, t)
	}
	s.tasks[id] = t
	s.pushReadyLocked(t)
	return t, nil
}

// Fork duplicates parent's priority, policy and slice length into a
// new child task running entry on its own stack. There is no
// address-space copy, since Go has no such concept; only the
// scheduling attributes are duplicated.
func (s *Scheduler) Fork(parent *Task, name string, stack []byte, entry Entry) (*Task, error) {
	return s.Spawn(parent.ID, name, parent.Priority, parent.Policy, parent.SliceLen, stack, entry)
}

// Current returns the task presently holding the CPU.
func (s *Scheduler) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Ticks returns the number of timer ticks delivered so far.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Start performs the initial context switch into whichever task
// pick_next selects (the idle task if nothing else is Ready).
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return
	}
	s.switchToLocked(s.pickNextLocked())
}

// pickNextLocked scans ready[Realtime..Low] in order and returns the
// head of the first non-empty queue, falling back to idle.
func (s *Scheduler) pickNextLocked() *Task {
	for p := Priority(0); p < Idle; p++ {
		if t := s.ready[p].popFront(); t != nil {
			return t
		}
	}
	return s.idle
}

// higherPriorityReadyLocked reports whether any queue strictly higher
// priority (lower numeric class) than p is non-empty.
func (s *Scheduler) higherPriorityReadyLocked(p Priority) bool {
	for pr := Priority(0); pr < p; pr++ {
		if !s.ready[pr].empty() {
			return true
		}
	}
	return false
}

// pushReadyLocked enqueues t on its priority's ready queue, refreshing
// its slice to the full configured length; remaining slice is reset
// only upon re-entering Ready.
func (s *Scheduler) pushReadyLocked(t *Task) {
	t.RemainingSlice = t.SliceLen
	t.State = StateReady
	s.ready[t.Priority].pushBack(t)
}

// switchToLocked installs next as current and hands it the run token.
// Must be called with mu held; it releases control to next's goroutine
// via a channel rendezvous and returns once next has taken the token
// (not once next has finished running — next now runs concurrently
// until its next Checkpoint call observes a pause request).
func (s *Scheduler) switchToLocked(next *Task) {
	next.State = StateRunning
	next.LastRunTick = s.ticks
	s.contextSwitches++
	next.ContextSwitches++
	s.current = next
	next.resume()
}

// Tick advances the simulated timer by one tick: it accounts the
// current task's CPU time, decides whether to preempt it, and
// recomputes the load average once per 100 ticks (one second at
// abi.TickHz).
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	cur := s.current
	if cur == nil {
		return
	}
	cur.AccumulatedTicks++

	if cur.Policy == RoundRobin && cur.RemainingSlice > 0 {
		cur.RemainingSlice--
	}

	var preempt bool
	switch cur.Policy {
	case FIFO:
		preempt = s.higherPriorityReadyLocked(cur.Priority)
	case RoundRobin:
		preempt = cur.RemainingSlice == 0 || s.higherPriorityReadyLocked(cur.Priority)
	}

	if s.ticks-s.lastLoadTick >= abi.TickHz {
		s.recomputeLoadLocked()
	}

	if preempt {
		s.preemptLocked()
	}
}

// preemptLocked requests the current task pause at its next
// Checkpoint, re-enqueues it (unless it has meanwhile exited), and
// switches to whatever pickNextLocked selects.
func (s *Scheduler) preemptLocked() {
	cur := s.current
	if cur != nil && cur != s.idle {
		cur.requestPause()
		if cur.Exited() {
			cur.State = StateZombie
			s.terminatedLocked(cur)
		} else {
			s.pushReadyLocked(cur)
		}
	} else if cur == s.idle {
		cur.requestPause()
	}
	s.switchToLocked(s.pickNextLocked())
}

// Yield is the voluntary counterpart to tick-driven preemption: t
// relinquishes the CPU itself, called from inside t's own Entry.
// Unlike tick-driven preemption (preemptLocked), the caller IS the task
// being switched away from, so there is no pause/ack handshake —
// Yield hands the token to the next task directly, then blocks this
// goroutine on its own token until some future switch resumes it.
func (s *Scheduler) Yield(t *Task) {
	s.mu.Lock()
	if s.current != t {
		s.mu.Unlock()
		return
	}
	t.Syscalls++
	s.pushReadyLocked(t)
	next := s.pickNextLocked()
	if next == t {
		// nothing else is ready: t keeps the CPU, slice refreshed.
		t.State = StateRunning
		s.mu.Unlock()
		return
	}
	s.switchToLocked(next)
	s.mu.Unlock()

	<-t.token
}

// Block transitions t out of Running into Blocked, off the CPU,
// without re-enqueueing it on any ready queue. A later Unblock call
// returns it to Ready.
func (s *Scheduler) Block(t *Task) {
	s.mu.Lock()
	if s.current != t {
		s.mu.Unlock()
		return
	}
	t.State = StateBlocked
	s.blocked = append(s.blocked, t)
	s.switchToLocked(s.pickNextLocked())
	s.mu.Unlock()

	<-t.token
}

// Unblock moves a Blocked task back to Ready with a freshly refreshed
// slice. It may be called from any goroutine (typically an IPC queue
// waking a waiter), not just the scheduler's own tick driver.
func (s *Scheduler) Unblock(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.blocked {
		if b == t {
			s.blocked = append(s.blocked[:i], s.blocked[i+1:]...)
			break
		}
	}
	s.pushReadyLocked(t)
}

// Exit terminates t with the given exit code, switching away from it
// without re-enqueueing.
func (s *Scheduler) Exit(t *Task, code int) {
	s.mu.Lock()
	if s.current != t {
		s.mu.Unlock()
		return
	}
	t.ExitCode = code
	t.State = StateZombie
	s.terminatedLocked(t)
	s.switchToLocked(s.pickNextLocked())
	s.mu.Unlock()
}

// terminatedLocked moves t into the terminated set. Destruction of a
// task terminates all descendants transitively before freeing
// resources, so Kill cascades to children; plain self-Exit does not
// (a task outliving its children is normal).
func (s *Scheduler) terminatedLocked(t *Task) {
	t.State = StateTerminated
	s.terminated = append(s.terminated, t)
}

// Kill forcibly terminates the task with the given id and all of its
// descendants, transitively. It returns a NotFound error if the id does
// not exist.
func (s *Scheduler) Kill(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return kerr.New(kerr.NotFound, "task %d not found", id)
	}
	s.killTreeLocked(t)
	return nil
}

func (s *Scheduler) killTreeLocked(t *Task) {
	for _, c := range t.Children {
		s.killTreeLocked(c)
	}
	if t.State == StateTerminated || t.State == StateZombie {
		return
	}
	if t.inQueue {
		s.ready[t.Priority].remove(t)
	}
	for i, b := range s.blocked {
		if b == t {
			s.blocked = append(s.blocked[:i], s.blocked[i+1:]...)
			break
		}
	}
	if s.current == t {
		t.requestPause()
		s.terminatedLocked(t)
		s.switchToLocked(s.pickNextLocked())
		return
	}
	s.terminatedLocked(t)
}

// Wait reports whether the task with the given id has reached Zombie
// or Terminated. The caller here is the scheduler's own state, not a
// task's goroutine: this is a polling helper for a driver loop, not a
// Checkpoint-style suspension.
func (s *Scheduler) Wait(id uint32) (exitCode int, terminated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return 0, true
	}
	if t.State == StateZombie || t.State == StateTerminated {
		return t.ExitCode, true
	}
	return 0, false
}

// GetPriority returns the priority class of the task with the given id.
func (s *Scheduler) GetPriority(id uint32) (Priority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return 0, kerr.New(kerr.NotFound, "task %d not found", id)
	}
	return t.Priority, nil
}

// SetPriority changes the priority class of a Ready or Running task.
// A task in a ready queue is moved to the tail of its new queue; a
// Running task just has its bookkeeping updated, taking effect at the
// next preemption decision.
func (s *Scheduler) SetPriority(id uint32, priority Priority) error {
	if priority == Idle {
		return kerr.New(kerr.InvalidArgument, "priority class idle is reserved for the idle task")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return kerr.New(kerr.NotFound, "task %d not found", id)
	}
	if t.inQueue {
		s.ready[t.Priority].remove(t)
		t.Priority = priority
		s.ready[t.Priority].pushBack(t)
		return nil
	}
	t.Priority = priority
	return nil
}

// GetTask looks up a task by id.
func (s *Scheduler) GetTask(id uint32) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// ContextSwitches returns the running total of context switches.
func (s *Scheduler) ContextSwitches() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextSwitches
}

// Tree renders the process tree rooted at every parentless task as a
// human-readable listing, a diagnostic dump in the shape a kernel
// shell would print.
func (s *Scheduler) Tree() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b []byte
	for _, t := range s.tasks {
		if t.ParentID == 0 && t != s.idle {
			b = appendSubtree(b, t, 0)
		}
	}
	return string(b)
}

func appendSubtree(b []byte, t *Task, depth int) []byte {
	for i := 0; i < depth; i++ {
		b = append(b, ' ', ' ')
	}
	b = append(b, fmt.Sprintf("%d %s [%s/%s] state=%s\n", t.ID, t.Name, t.Priority, t.Policy, t.State)...)
	for _, c := range t.Children {
		b = appendSubtree(b, c, depth+1)
	}
	return b
}
