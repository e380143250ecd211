package analytics

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSink_Snapshot(t *testing.T) {
	s := NewSink()
	s.Add("accounts", OpGet, "a1")
	s.Add("accounts", OpGet, "a1")
	s.Add("accounts", OpGet, "a2")
	s.Add("accounts", OpSet, "a2")
	s.BatchAdd("users", OpGet, []string{"u1", "u2", "u2"})

	want := Snapshot{
		"accounts": {
			OpGet: {Sum: 3, Max: 2, MaxID: "a1"},
			OpSet: {Sum: 1, Max: 1, MaxID: "a2"},
		},
		"users": {
			OpGet: {Sum: 3, Max: 2, MaxID: "u2"},
		},
	}
	if diff := cmp.Diff(want, s.Snapshot()); diff != "" {
		t.Errorf("unexpected snapshot (-want +got):\n%s", diff)
	}

	// Snapshot does not drain.
	assert.Len(t, s.Snapshot(), 2)
}

func TestSink_MaxTieGoesToSmallestID(t *testing.T) {
	s := NewSink()
	s.Add("accounts", OpGet, "b")
	s.Add("accounts", OpGet, "a")

	assert.Equal(t, Stats{Sum: 2, Max: 1, MaxID: "a"}, s.Snapshot()["accounts"][OpGet])
}

func TestSink_ResetAll(t *testing.T) {
	s := NewSink()
	s.Add("accounts", OpCreate, "a1")

	drained := s.ResetAll()
	assert.Equal(t, int64(1), drained["accounts"][OpCreate].Sum)
	assert.Empty(t, s.Snapshot())
	assert.Empty(t, s.ResetAll())
}

func TestSink_Reset(t *testing.T) {
	s := NewSink()
	s.Add("accounts", OpCreate, "a1")
	s.Add("users", OpCreate, "u1")

	s.Reset("accounts")
	s.Reset("missing")

	snap := s.Snapshot()
	assert.NotContains(t, snap, "accounts")
	assert.Contains(t, snap, "users")
}

func TestSink_Disabled(t *testing.T) {
	s := NewSink(Disabled())
	s.Add("accounts", OpGet, "a1")
	s.BatchAdd("accounts", OpGet, []string{"a2"})

	assert.Empty(t, s.Snapshot())
	assert.Equal(t, 0, testutil.CollectAndCount(s.metrics.Operations))

	assert.True(t, NewSink(Enabled(false)).disabled)
	assert.False(t, NewSink(Enabled(true)).disabled)
}

func TestSink_Nil(t *testing.T) {
	var s *Sink
	s.Add("accounts", OpGet, "a1")
	s.BatchAdd("accounts", OpGet, []string{"a1"})
	s.Reset("accounts")

	assert.Empty(t, s.Snapshot())
	assert.Empty(t, s.ResetAll())
	assert.Nil(t, s.PrometheusCollectors())
}

func TestSink_Metrics(t *testing.T) {
	s := NewSink()
	s.Add("accounts", OpGet, "a1")
	s.BatchAdd("accounts", OpGet, []string{"a1", "a2"})
	s.Add("accounts", OpDelete, "a1")

	assert.Equal(t, float64(3), testutil.ToFloat64(s.metrics.Operations.WithLabelValues("accounts", "get")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.Operations.WithLabelValues("accounts", "delete")))

	// Draining the sink does not reset the counters.
	s.ResetAll()
	assert.Equal(t, float64(3), testutil.ToFloat64(s.metrics.Operations.WithLabelValues("accounts", "get")))
	assert.Len(t, s.PrometheusCollectors(), 1)
}

func TestSink_ConcurrentAddAndDrain(t *testing.T) {
	s := NewSink()

	const writers, perWriter = 8, 500
	var wg sync.WaitGroup
	drained := make(chan Snapshot, 64)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Add("accounts", OpGet, "a1")
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			drained <- s.ResetAll()
		}
	}()

	wg.Wait()
	<-done
	close(drained)

	var total int64
	for snap := range drained {
		total += snap["accounts"][OpGet].Sum
	}
	total += s.ResetAll()["accounts"][OpGet].Sum

	assert.Equal(t, int64(writers*perWriter), total)
}
