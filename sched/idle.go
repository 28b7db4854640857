// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

// IdleEntry is the default idle task body: it simply checkpoints in a
// tight loop, forever, the same "halt until interrupted" behavior the
// original idle task gives the CPU when nothing else is Ready. A
// caller supplying its own idle Entry to SetIdle (for instrumentation,
// say) should still call t.Checkpoint() at least once per loop
// iteration.
func IdleEntry(t *Task) {
	for {
		t.Checkpoint()
	}
}
