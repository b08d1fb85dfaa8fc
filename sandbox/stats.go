// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"sync"
	"time"
)

// =============================================================================
// EXECUTION STATISTICS
// =============================================================================

// ExecutionStat records one completed call. Stats are append-only; they
// are written exactly once per dispatch and never mutated afterwards.
type ExecutionStat struct {
	Tool      string        `json:"tool"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Summary aggregates every call made through a registry since it was
// created. Counters are exact for the registry lifetime even though the
// detailed stat log keeps only the most recent entries.
type Summary struct {
	TotalExecutions int                    `json:"totalExecutions"`
	Successful      int                    `json:"successful"`
	Failed          int                    `json:"failed"`
	TotalDuration   time.Duration          `json:"totalDuration"`
	AvgDuration     time.Duration          `json:"avgDuration"`
	PerTool         map[string]ToolSummary `json:"perTool"`
}

// ToolSummary aggregates the calls of one tool.
type ToolSummary struct {
	Count       int           `json:"count"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	AvgDuration time.Duration `json:"avgDuration"`
}

// defaultMaxRecentStats bounds the detailed stat log; aggregate counters
// are unaffected by the bound.
const defaultMaxRecentStats = 1000

type toolAggregate struct {
	count         int
	successful    int
	failed        int
	totalDuration time.Duration
}

// statLog is the registry's execution log: a bounded list of recent
// stats plus exact running aggregates. Safe for concurrent use.
type statLog struct {
	mu            sync.Mutex
	recent        []ExecutionStat
	maxRecent     int
	total         int
	successful    int
	failed        int
	totalDuration time.Duration
	perTool       map[string]*toolAggregate
}

func newStatLog(maxRecent int) *statLog {
	if maxRecent <= 0 {
		maxRecent = defaultMaxRecentStats
	}
	return &statLog{
		maxRecent: maxRecent,
		perTool:   make(map[string]*toolAggregate),
	}
}

// record appends one stat and updates the aggregates.
func (l *statLog) record(stat ExecutionStat) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.recent = append(l.recent, stat)
	if len(l.recent) > l.maxRecent {
		l.recent = l.recent[len(l.recent)-l.maxRecent:]
	}

	l.total++
	l.totalDuration += stat.Duration
	if stat.Success {
		l.successful++
	} else {
		l.failed++
	}

	agg := l.perTool[stat.Tool]
	if agg == nil {
		agg = &toolAggregate{}
		l.perTool[stat.Tool] = agg
	}
	agg.count++
	agg.totalDuration += stat.Duration
	if stat.Success {
		agg.successful++
	} else {
		agg.failed++
	}
}

// snapshot returns a copy of the recent stats, oldest first.
func (l *statLog) snapshot() []ExecutionStat {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ExecutionStat, len(l.recent))
	copy(out, l.recent)
	return out
}

// summary computes the aggregate view.
func (l *statLog) summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{
		TotalExecutions: l.total,
		Successful:      l.successful,
		Failed:          l.failed,
		TotalDuration:   l.totalDuration,
		PerTool:         make(map[string]ToolSummary, len(l.perTool)),
	}
	if l.total > 0 {
		s.AvgDuration = l.totalDuration / time.Duration(l.total)
	}
	for name, agg := range l.perTool {
		ts := ToolSummary{
			Count:      agg.count,
			Successful: agg.successful,
			Failed:     agg.failed,
		}
		if agg.count > 0 {
			ts.AvgDuration = agg.totalDuration / time.Duration(agg.count)
		}
		s.PerTool[name] = ts
	}
	return s
}
