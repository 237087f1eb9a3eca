package profiler

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDuration(t *testing.T) {
	p := New(Options{MaxSamples: 2})
	p.RecordDuration(StageInfer, 30*time.Millisecond)
	p.RecordDuration(StageInfer, 10*time.Millisecond)
	p.RecordDuration(StageInfer, 20*time.Millisecond)

	st := p.Snapshot().Stages[StageInfer]
	assert.Equal(t, int64(3), st.Count)
	assert.Equal(t, 10*time.Millisecond, st.Min)
	assert.Equal(t, 30*time.Millisecond, st.Max)
	// The window holds the last two samples.
	assert.Equal(t, 15*time.Millisecond, st.Avg)
}

func TestStartOperation(t *testing.T) {
	p := New(Options{})
	done := p.StartOperation(StageRank)
	done()
	assert.Equal(t, int64(1), p.Snapshot().Stages[StageRank].Count)
}

func TestCountersAndCollectors(t *testing.T) {
	p := New(Options{})
	p.Add(CounterDropped, 2)
	p.Add(CounterDropped, 3)
	p.AddMetricsCollector(CollectorFunc(func() map[string]float64 {
		return map[string]float64{"pool_available": 2}
	}))

	s := p.Snapshot()
	assert.Equal(t, uint64(5), s.Counters[CounterDropped])
	assert.Equal(t, 2.0, s.Gauges["pool_available"])
}

func TestReportLogs(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := New(Options{Log: logrus.NewEntry(logger)})
	p.Add(CounterFrames, 1)
	p.RecordDuration(StageTake, time.Millisecond)
	p.Report()

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "profile", entry.Message)
	assert.Equal(t, uint64(1), entry.Data[CounterFrames])
	assert.Contains(t, entry.Data["stage_take"], "n=1")
}

func TestRunReportsOnStop(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := New(Options{Log: logrus.NewEntry(logger), ReportInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Len(t, hook.AllEntries(), 1)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2*1024*1024))
}
