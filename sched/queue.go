// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

// readyQueue is an intrusive doubly-linked FIFO list of *Task,
// threaded through Task.prev/next. Invariants: count equals the list
// length; head.prev and tail.next are nil.
type readyQueue struct {
	head, tail *Task
	count      uint32
}

func (q *readyQueue) len() uint32 { return q.count }

func (q *readyQueue) empty() bool { return q.count == 0 }

// pushBack enqueues t at the tail, per FIFO ordering.
func (q *readyQueue) pushBack(t *Task) {
	t.prev, t.next = q.tail, nil
	if q.tail != nil {
		q.tail.next = t
	} else {
		q.head = t
	}
	q.tail = t
	t.inQueue = true
	q.count++
}

// popFront removes and returns the head, or nil if empty.
func (q *readyQueue) popFront() *Task {
	t := q.head
	if t == nil {
		return nil
	}
	q.head = t.next
	if q.head != nil {
		q.head.prev = nil
	} else {
		q.tail = nil
	}
	t.prev, t.next = nil, nil
	t.inQueue = false
	q.count--
	return t
}

// remove splices t out of the queue wherever it sits. Used by
// SetPriority and Kill to pull a ready task out of its queue without
// a full dequeue/requeue cycle.
func (q *readyQueue) remove(t *Task) {
	if !t.inQueue {
		return
	}
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		q.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		q.tail = t.prev
	}
	t.prev, t.next = nil, nil
	t.inQueue = false
	q.count--
}
