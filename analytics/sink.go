// Package analytics counts store operations per resource, operation and
// document id, and periodically drains the counters to a Persister.
package analytics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation is a counted store operation.
type Operation string

const (
	OpGet               Operation = "get"
	OpCreate            Operation = "create"
	OpUpdate            Operation = "update"
	OpSet               Operation = "set"
	OpDelete            Operation = "delete"
	OpTransactionGet    Operation = "transactionGet"
	OpTransactionCreate Operation = "transactionCreate"
	OpTransactionUpdate Operation = "transactionUpdate"
	OpTransactionSet    Operation = "transactionSet"
	OpTransactionDelete Operation = "transactionDelete"
)

// Stats aggregates the counters of one resource and operation.
type Stats struct {
	Sum   int64  `json:"sum"`
	Max   int64  `json:"max"`
	MaxID string `json:"maxId"`
}

// Snapshot is the aggregate of a Sink: resource → operation → stats.
type Snapshot map[string]map[Operation]Stats

type counters map[string]map[Operation]map[string]int64

// Sink collects operation counters. It is safe for concurrent use. A nil
// *Sink discards everything.
type Sink struct {
	mu       sync.Mutex
	disabled bool
	counts   counters
	metrics  *Metrics
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// Disabled returns an option turning Add and BatchAdd into no-ops.
func Disabled() SinkOption {
	return func(s *Sink) { s.disabled = true }
}

// Enabled returns an option setting whether the sink records operations.
func Enabled(enabled bool) SinkOption {
	return func(s *Sink) { s.disabled = !enabled }
}

// NewSink returns an empty, enabled Sink.
func NewSink(opts ...SinkOption) *Sink {
	s := &Sink{
		counts:  make(counters),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add records one occurrence of op on document id of resource.
func (s *Sink) Add(resource string, op Operation, id string) {
	if s == nil || s.disabled {
		return
	}
	s.mu.Lock()
	s.add(resource, op, id)
	s.mu.Unlock()
}

// BatchAdd records one occurrence of op for each id.
func (s *Sink) BatchAdd(resource string, op Operation, ids []string) {
	if s == nil || s.disabled || len(ids) == 0 {
		return
	}
	s.mu.Lock()
	for _, id := range ids {
		s.add(resource, op, id)
	}
	s.mu.Unlock()
}

func (s *Sink) add(resource string, op Operation, id string) {
	ops, ok := s.counts[resource]
	if !ok {
		ops = make(map[Operation]map[string]int64)
		s.counts[resource] = ops
	}
	ids, ok := ops[op]
	if !ok {
		ids = make(map[string]int64)
		ops[op] = ids
	}
	ids[id]++
	s.metrics.Operations.WithLabelValues(resource, string(op)).Inc()
}

// Snapshot aggregates the current counters without resetting them.
func (s *Sink) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts.snapshot()
}

// Reset discards the counters of resource.
func (s *Sink) Reset(resource string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.counts, resource)
	s.mu.Unlock()
}

// ResetAll atomically swaps the counters out and returns their aggregate.
// Every operation is part of exactly one drained snapshot.
func (s *Sink) ResetAll() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	drained := s.counts
	s.counts = make(counters)
	s.mu.Unlock()
	return drained.snapshot()
}

// PrometheusCollectors returns the collectors of the sink.
func (s *Sink) PrometheusCollectors() []prometheus.Collector {
	if s == nil {
		return nil
	}
	return s.metrics.PrometheusCollectors()
}

func (c counters) snapshot() Snapshot {
	result := make(Snapshot, len(c))
	for resource, ops := range c {
		byOp := make(map[Operation]Stats, len(ops))
		for op, ids := range ops {
			byOp[op] = aggregate(ids)
		}
		result[resource] = byOp
	}
	return result
}

// aggregate sums the counts of ids. Ties for the maximum go to the
// smallest id.
func aggregate(ids map[string]int64) Stats {
	keys := make([]string, 0, len(ids))
	for id := range ids {
		keys = append(keys, id)
	}
	sort.Strings(keys)

	var st Stats
	for _, id := range keys {
		n := ids[id]
		st.Sum += n
		if n > st.Max {
			st.Max = n
			st.MaxID = id
		}
	}
	return st
}
