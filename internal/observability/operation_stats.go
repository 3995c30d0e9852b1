// Package observability provides operation statistics and Prometheus metrics.
package observability

import (
	"sort"
	"sync"
	"time"
)

// OperationStats tracks how often each operation and scope is requested.
type OperationStats struct {
	mu      sync.RWMutex
	ops     map[string]*UsageStats
	scopes  map[string]*UsageStats
	window  time.Duration
	nowFunc func() time.Time
}

// UsageStats holds statistics for one operation or scope.
type UsageStats struct {
	Name          string           `json:"name"`
	Frequency     int64            `json:"frequency"`
	Errors        int64            `json:"errors"`
	TotalDuration time.Duration    `json:"total_duration"`
	LastSeen      time.Time        `json:"last_seen"`
	Operations    map[string]int64 `json:"operations,omitempty"` // per-scope: operation → count
}

// NewOperationStats creates a tracker that forgets entries idle for longer
// than window.
func NewOperationStats(window time.Duration) *OperationStats {
	return &OperationStats{
		ops:     make(map[string]*UsageStats),
		scopes:  make(map[string]*UsageStats),
		window:  window,
		nowFunc: time.Now,
	}
}

// RecordOperation records one completed operation.
// This method is O(1) and thread-safe.
func (s *OperationStats) RecordOperation(op string, d time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := entry(s.ops, op)
	stats.Frequency++
	stats.TotalDuration += d
	stats.LastSeen = s.nowFunc()
	if failed {
		stats.Errors++
	}
}

// RecordScope records an operation against a project scope. The unscoped
// view is recorded under "_all".
func (s *OperationStats) RecordScope(scope, op string) {
	if scope == "" {
		scope = "_all"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := entry(s.scopes, scope)
	if stats.Operations == nil {
		stats.Operations = make(map[string]int64)
	}
	stats.Frequency++
	stats.LastSeen = s.nowFunc()
	stats.Operations[op]++
}

// TopOperations returns the n most frequent operations, most frequent first.
func (s *OperationStats) TopOperations(n int) []UsageStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return top(s.ops, n)
}

// TopScopes returns the n most active scopes, most active first.
func (s *OperationStats) TopScopes(n int) []UsageStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return top(s.scopes, n)
}

// Prune removes entries not seen within the window.
// This should be called periodically (e.g., every 5 minutes).
func (s *OperationStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := s.nowFunc().Add(-s.window)
	for name, stats := range s.ops {
		if stats.LastSeen.Before(threshold) {
			delete(s.ops, name)
		}
	}
	for name, stats := range s.scopes {
		if stats.LastSeen.Before(threshold) {
			delete(s.scopes, name)
		}
	}
}

func entry(m map[string]*UsageStats, name string) *UsageStats {
	stats, ok := m[name]
	if !ok {
		stats = &UsageStats{Name: name}
		m[name] = stats
	}
	return stats
}

// top copies and ranks entries by frequency, breaking ties by name.
func top(m map[string]*UsageStats, n int) []UsageStats {
	if n <= 0 || len(m) == 0 {
		return []UsageStats{}
	}

	out := make([]UsageStats, 0, len(m))
	for _, s := range m {
		cp := *s
		if s.Operations != nil {
			cp.Operations = make(map[string]int64, len(s.Operations))
			for op, count := range s.Operations {
				cp.Operations[op] = count
			}
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Name < out[j].Name
	})

	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}
