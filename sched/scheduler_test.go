// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched_test

import (
	"testing"
	"time"

	"code.hybscloud.com/tradekernel/sched"
)

func newScheduler() *sched.Scheduler {
	s := sched.New(nil)
	s.SetIdle(make([]byte, 256), sched.IdleEntry)
	return s
}

// busyLoop checkpoints forever, the way an infinite-loop workload task
// behaves; the test drives ticks externally and never waits for it to
// finish.
func busyLoop(t *sched.Task) {
	for {
		t.Checkpoint()
	}
}

// countAndExit checkpoints n times then exits with code 0, for tests
// that need a task to observably terminate.
func countAndExit(n int) sched.Entry {
	return func(t *sched.Task) {
		for i := 0; i < n; i++ {
			t.Checkpoint()
		}
		t.Exit(0)
	}
}

func TestScheduler_StartPicksIdleWhenNothingReady(t *testing.T) {
	s := newScheduler()
	s.Start()
	cur := s.Current()
	if cur == nil || cur.ID != 0 {
		t.Fatalf("Current() = %v, want idle task", cur)
	}
}

func TestScheduler_PriorityPreemption(t *testing.T) {
	s := newScheduler()
	taskA, err := s.Spawn(0, "A", sched.Normal, sched.RoundRobin, 10, make([]byte, 256), busyLoop)
	if err != nil {
		t.Fatalf("Spawn(A): %v", err)
	}
	s.Start()
	if s.Current().ID != taskA.ID {
		t.Fatalf("Current() = %d, want A(%d)", s.Current().ID, taskA.ID)
	}

	s.Tick()

	// B checkpoints until released, so it cannot exit before the
	// assertion that it is current has run.
	releaseB := make(chan struct{})
	taskB, err := s.Spawn(0, "B", sched.High, sched.RoundRobin, 10, make([]byte, 256), func(t *sched.Task) {
		for {
			select {
			case <-releaseB:
				t.Exit(0)
				return
			default:
				t.Checkpoint()
			}
		}
	})
	if err != nil {
		t.Fatalf("Spawn(B): %v", err)
	}

	s.Tick() // higher-priority B is Ready: must preempt A
	if s.Current().ID != taskB.ID {
		t.Fatalf("Current() = %d, want B(%d)", s.Current().ID, taskB.ID)
	}
	close(releaseB)

	// drive ticks until B exits and control returns to A.
	deadline := time.Now().Add(time.Second)
	for s.Current().ID != taskA.ID {
		s.Tick()
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for control to return to A, current=%d", s.Current().ID)
		}
	}
}

func TestScheduler_RoundRobinFairness(t *testing.T) {
	s := newScheduler()
	const slice = 5
	tasks := make([]*sched.Task, 3)
	for i := range tasks {
		task, err := s.Spawn(0, "rr", sched.Normal, sched.RoundRobin, slice, make([]byte, 256), busyLoop)
		if err != nil {
			t.Fatalf("Spawn(%d): %v", i, err)
		}
		tasks[i] = task
	}
	s.Start()

	for i := 0; i < 30; i++ {
		s.Tick()
	}

	for _, task := range tasks {
		if task.AccumulatedTicks < 5 || task.AccumulatedTicks > 15 {
			t.Errorf("task %d accumulated %d ticks, want 10 +/- 5", task.ID, task.AccumulatedTicks)
		}
	}
}

func TestScheduler_FIFOOnlyPreemptedByHigherPriority(t *testing.T) {
	s := newScheduler()
	low, err := s.Spawn(0, "low", sched.Low, sched.FIFO, 0, make([]byte, 256), busyLoop)
	if err != nil {
		t.Fatalf("Spawn(low): %v", err)
	}
	s.Start()
	if s.Current().ID != low.ID {
		t.Fatalf("Current() = %d, want low(%d)", s.Current().ID, low.ID)
	}

	for i := 0; i < 50; i++ {
		s.Tick()
	}
	if s.Current().ID != low.ID {
		t.Errorf("FIFO task lost the CPU with nothing higher-priority ready")
	}

	if _, err := s.Spawn(0, "rt", sched.Realtime, sched.FIFO, 0, make([]byte, 256), busyLoop); err != nil {
		t.Fatalf("Spawn(rt): %v", err)
	}
	s.Tick()
	if s.Current().Priority != sched.Realtime {
		t.Errorf("Current().Priority = %s, want realtime", s.Current().Priority)
	}
}

func TestScheduler_SpawnRejectsIdlePriority(t *testing.T) {
	s := newScheduler()
	_, err := s.Spawn(0, "bad", sched.Idle, sched.FIFO, 0, make([]byte, 256), busyLoop)
	if err == nil {
		t.Error("expected an error spawning a task at the reserved idle priority")
	}
}

func TestScheduler_KillCascadesToChildren(t *testing.T) {
	s := newScheduler()
	parent, err := s.Spawn(0, "parent", sched.Normal, sched.FIFO, 0, make([]byte, 256), busyLoop)
	if err != nil {
		t.Fatalf("Spawn(parent): %v", err)
	}
	child, err := s.Fork(parent, "child", make([]byte, 256), busyLoop)
	if err != nil {
		t.Fatalf("Fork(child): %v", err)
	}

	if err := s.Kill(parent.ID); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if child.State != sched.StateTerminated && child.State != sched.StateZombie {
		t.Errorf("child.State = %s, want terminated/zombie after parent kill", child.State)
	}
}

func TestScheduler_GetSetPriority(t *testing.T) {
	s := newScheduler()
	task, err := s.Spawn(0, "p", sched.Low, sched.FIFO, 0, make([]byte, 256), busyLoop)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := s.SetPriority(task.ID, sched.Realtime); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	got, err := s.GetPriority(task.ID)
	if err != nil {
		t.Fatalf("GetPriority: %v", err)
	}
	if got != sched.Realtime {
		t.Errorf("GetPriority() = %s, want realtime", got)
	}
}
