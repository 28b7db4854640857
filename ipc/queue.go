// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ipc

import (
	"sync"

	"code.hybscloud.com/tradekernel/abi"
	"code.hybscloud.com/tradekernel/kerr"
	"code.hybscloud.com/tradekernel/sched"
)

// Queue is one keyed mailbox. Send and receive on the same queue are
// serialized by mu, giving the same critical-section guarantee a
// single-CPU kernel gets by disabling preemption: tradekernel tasks
// are real goroutines, so an ordinary mutex is the faithful
// translation of that discipline.
type Queue struct {
	mu sync.Mutex

	ID         uint32
	Key        int32
	CreatorPID uint32
	Perm       uint32
	InUse      bool

	messages    []Message
	recvWaiters []*sched.Task // receivers parked in Block waiting on a message
	sendWaiters []*sched.Task // senders parked in Block waiting on room
}

// Registry is the process-wide table of message queues, keyed both by
// creation key and by numeric id. This implementation chooses the
// blocking variant: when a waiter task is passed in, Send/Receive park
// the calling task via sched.Task.Block (and wake it via Task.Wake)
// instead of returning QueueFull/QueueEmpty, unless the caller passes
// NoWait explicitly (see DESIGN.md).
type Registry struct {
	mu       sync.Mutex
	byKey    map[int32]*Queue
	byID     map[uint32]*Queue
	nextID   uint32
	capacity int
}

// NewRegistry creates an empty queue table. capacity overrides
// MaxQueueSize per queue if non-zero.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = MaxQueueSize
	}
	return &Registry{
		byKey:    make(map[int32]*Queue),
		byID:     make(map[uint32]*Queue),
		nextID:   1,
		capacity: capacity,
	}
}

// QueueGet returns the id of the queue for key, creating one if Create
// is set in flags and none yet exists.
func (r *Registry) QueueGet(key int32, creatorPID uint32, flags int) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.byKey[key]; ok {
		return q.ID, nil
	}
	if flags&Create == 0 {
		return 0, kerr.Of(kerr.NotFound)
	}

	id := r.nextID
	r.nextID++
	q := &Queue{
		ID:         id,
		Key:        key,
		CreatorPID: creatorPID,
		Perm:       uint32(flags) & abi.IPCPermMask,
		InUse:      true,
		messages:   make([]Message, 0, r.capacity),
	}
	r.byKey[key] = q
	r.byID[id] = q
	return id, nil
}

// QueueCtl applies a control command to the queue with the given id.
func (r *Registry) QueueCtl(id uint32, cmd CtlCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.byID[id]
	if !ok {
		return kerr.Of(kerr.NotFound)
	}
	switch cmd {
	case CtlRemove:
		delete(r.byID, id)
		delete(r.byKey, q.Key)
		q.InUse = false
		return nil
	default:
		return kerr.New(kerr.InvalidArgument, "unrecognized queue_ctl command %d", cmd)
	}
}

func (r *Registry) lookup(id uint32) (*Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.byID[id]
	if !ok || !q.InUse {
		return nil, kerr.Of(kerr.NotFound)
	}
	return q, nil
}

// Send enqueues msg on the queue with the given id. If waiter is
// non-nil and the queue is full and NoWait is not set, the caller
// blocks (via waiter.Block) until room frees up.
func (r *Registry) Send(id uint32, senderPID uint32, msgType int32, payload []byte, priority int32, tick uint64, flags int, waiter *sched.Task) error {
	if len(payload) > MaxMessageSize {
		return kerr.New(kerr.InvalidArgument, "message size %d exceeds MaxMessageSize", len(payload))
	}
	q, err := r.lookup(id)
	if err != nil {
		return err
	}

	for {
		q.mu.Lock()
		if len(q.messages) < cap(q.messages) {
			body := make([]byte, len(payload))
			copy(body, payload)
			q.messages = append(q.messages, Message{
				Type:      msgType,
				SenderPID: senderPID,
				Size:      uint32(len(payload)),
				Payload:   body,
				Timestamp: tick,
				Priority:  priority,
			})
			pending := q.recvWaiters
			q.recvWaiters = nil
			q.mu.Unlock()
			for _, w := range pending {
				w.Wake()
			}
			return nil
		}

		if flags&NoWait != 0 || waiter == nil {
			q.mu.Unlock()
			return kerr.Of(kerr.QueueFull)
		}
		q.sendWaiters = append(q.sendWaiters, waiter)
		q.mu.Unlock()
		waiter.Block()
	}
}

// Receive scans the queue from head toward tail for the first message
// whose Type matches typeFilter (0 matches any), removes it preserving
// the order of the rest, and returns it. If none match and waiter is
// non-nil and NoWait is not set, the caller blocks until Send wakes
// it.
func (r *Registry) Receive(id uint32, typeFilter int32, flags int, waiter *sched.Task) (Message, error) {
	q, err := r.lookup(id)
	if err != nil {
		return Message{}, err
	}

	for {
		q.mu.Lock()
		for i, m := range q.messages {
			if typeFilter == 0 || m.Type == typeFilter {
				q.messages = append(q.messages[:i], q.messages[i+1:]...)
				pending := q.sendWaiters
				q.sendWaiters = nil
				q.mu.Unlock()
				for _, w := range pending {
					w.Wake()
				}
				return m, nil
			}
		}
		if flags&NoWait != 0 || waiter == nil {
			q.mu.Unlock()
			return Message{}, kerr.Of(kerr.QueueEmpty)
		}
		q.recvWaiters = append(q.recvWaiters, waiter)
		q.mu.Unlock()

		waiter.Block()
	}
}
