// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ipc implements the two inter-process transports: keyed
// fixed-capacity message queues and single-producer/single-consumer
// lock-free ring buffers.
package ipc

// MaxQueueSize is the fixed capacity of every message queue, a ring of
// up to this many messages. Overridable only via NewRegistry's
// capacity parameter, never mutated after creation.
const MaxQueueSize = 64

// MaxMessageSize bounds a single message's payload.
const MaxMessageSize = 4096

// Message is one entry in a queue.
type Message struct {
	Type      int32
	SenderPID uint32
	Size      uint32
	Payload   []byte
	Timestamp uint64
	Priority  int32
}
