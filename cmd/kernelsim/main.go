// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command kernelsim drives a small simulated machine end to end: a
// heap-backed task scheduler exchanging messages over an IPC queue
// and a ring buffer, reporting diagnostics to stdout.
package main

import (
	"fmt"
	"sync/atomic"

	"code.hybscloud.com/tradekernel/console"
	"code.hybscloud.com/tradekernel/ipc"
	"code.hybscloud.com/tradekernel/mem"
	"code.hybscloud.com/tradekernel/sched"
)

func main() {
	log := console.Stdout()

	var tick uint64
	heap := mem.New(1<<20, func() uint64 { return atomic.LoadUint64(&tick) }, log)

	s := sched.New(log)
	idleStack, err := heap.Alloc(4096, mem.Here())
	must(err)
	s.SetIdle(idleStack, sched.IdleEntry)

	registry := ipc.NewRegistry(0)
	queueID, err := registry.QueueGet(1, 0, ipc.Create)
	must(err)

	ring := ipc.NewRing(16, 8)

	producerStack, err := heap.Alloc(4096, mem.Here())
	must(err)
	consumerStack, err := heap.Alloc(4096, mem.Here())
	must(err)

	producer, err := s.Spawn(0, "producer", sched.Normal, sched.RoundRobin, 4, producerStack, func(t *sched.Task) {
		for i := 0; i < 5; i++ {
			payload := []byte(fmt.Sprintf("msg-%d", i))
			must(registry.Send(queueID, t.ID, 1, payload, 0, atomic.LoadUint64(&tick), 0, t))

			var buf [8]byte
			for b := range buf {
				buf[b] = byte(i)
			}
			ring.PushWait(buf[:])

			t.Checkpoint()
		}
		t.Exit(0)
	})
	must(err)

	consumer, err := s.Spawn(0, "consumer", sched.Normal, sched.RoundRobin, 4, consumerStack, func(t *sched.Task) {
		for i := 0; i < 5; i++ {
			m, err := registry.Receive(queueID, 0, 0, t)
			must(err)
			log.Info().Str("payload", string(m.Payload)).Log("kernelsim: received message")

			var buf [8]byte
			ring.PopWait(buf[:])
			log.Info().Uint64("value", uint64(buf[0])).Log("kernelsim: received ring element")

			t.Checkpoint()
		}
		t.Exit(0)
	})
	must(err)

	s.Start()
	for i := 0; i < 200; i++ {
		atomic.AddUint64(&tick, 1)
		s.Tick()
		if _, done := s.Wait(producer.ID); done {
			if _, done := s.Wait(consumer.ID); done {
				break
			}
		}
	}

	fmt.Println(s.Tree())
	fmt.Println(s.Report())
	fmt.Println(heap.Report())
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
