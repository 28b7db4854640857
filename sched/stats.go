// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import "fmt"

// Stats is a snapshot of the scheduler's running counters and gauges.
type Stats struct {
	Ticks           uint64
	ContextSwitches uint64
	LoadAverage     uint32

	ReadyCounts [numPriorities]uint32
	Blocked     int
	Terminated  int
}

// recomputeLoadLocked recomputes the load average once per abi.TickHz
// ticks: (running + ready[Realtime].count + ready[High].count) × 100.
func (s *Scheduler) recomputeLoadLocked() {
	s.lastLoadTick = s.ticks
	var running uint32
	if s.current != nil && s.current != s.idle {
		running = 1
	}
	s.loadAvg = (running + s.ready[Realtime].len() + s.ready[High].len()) * 100
}

// LoadAverage returns the most recently computed load average.
func (s *Scheduler) LoadAverage() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAvg
}

// StatsSnapshot returns a point-in-time view of the scheduler's
// counters and queue depths.
func (s *Scheduler) StatsSnapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Ticks:           s.ticks,
		ContextSwitches: s.contextSwitches,
		LoadAverage:     s.loadAvg,
		Blocked:         len(s.blocked),
		Terminated:      len(s.terminated),
	}
	for p := 0; p < numPriorities; p++ {
		st.ReadyCounts[p] = s.ready[p].len()
	}
	return st
}

// Report renders the statistics snapshot as a human-readable string,
// the shape a diagnostic shell would print.
func (s *Scheduler) Report() string {
	st := s.StatsSnapshot()
	return fmt.Sprintf(
		"sched: ticks=%d switches=%d load=%d ready=%v blocked=%d terminated=%d",
		st.Ticks, st.ContextSwitches, st.LoadAverage, st.ReadyCounts, st.Blocked, st.Terminated,
	)
}
