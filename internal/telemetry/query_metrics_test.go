package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBuffer_MaintainsCapacity(t *testing.T) {
	buf := NewCircularBuffer[string](3)

	buf.Add("query1")
	buf.Add("query2")
	buf.Add("query3")
	buf.Add("query4") // evicts query1
	buf.Add("query5") // evicts query2

	assert.Equal(t, []string{"query3", "query4", "query5"}, buf.Items())
	assert.Equal(t, 3, buf.Size())
}

func TestCircularBuffer_EmptyItems(t *testing.T) {
	buf := NewCircularBuffer[string](10)

	items := buf.Items()
	assert.Empty(t, items)
	assert.NotNil(t, items)
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{499 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestExtractTerms_DropsStopWords(t *testing.T) {
	assert.Equal(t, []string{"salary", "bands"}, ExtractTerms("Are the salary bands?"))
	assert.Nil(t, ExtractTerms("the and of"))
}

func TestQueryMetrics_RecordAndSnapshot(t *testing.T) {
	m := NewQueryMetrics(nil, QueryMetricsConfig{})
	defer func() { _ = m.Close() }()

	m.Record(QueryEvent{Query: "salary bands", Spaces: []string{"documents"}, ResultCount: 3, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Query: "Salary Bands ", Spaces: []string{"documents", "memory"}, ResultCount: 0, Latency: 700 * time.Millisecond})

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, int64(1), snap.ExactRepeatCount)
	assert.InDelta(t, 50.0, snap.ZeroResultPercentage(), 1e-9)
	assert.Equal(t, []string{"Salary Bands "}, snap.ZeroResultQueries)
	assert.Equal(t, int64(2), snap.SpaceCounts["documents"])
	assert.Equal(t, int64(1), snap.SpaceCounts["memory"])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP50])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP1000])
	require.Len(t, snap.TopTerms, 2)
	assert.Equal(t, TermCount{Term: "bands", Count: 2}, snap.TopTerms[0])
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := NewQueryMetrics(nil, QueryMetricsConfig{})
	defer func() { _ = m.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record(QueryEvent{Query: "runbook", ResultCount: 1})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.Snapshot().TotalQueries)
}

func TestQueryMetrics_FlushWritesDeltasToJournal(t *testing.T) {
	j, err := OpenJournal("")
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	m := NewQueryMetrics(j, QueryMetricsConfig{})
	m.Record(QueryEvent{Query: "invoice totals", ResultCount: 0, Latency: time.Millisecond})
	require.NoError(t, m.Flush())

	// A second flush with nothing new must not double count
	require.NoError(t, m.Flush())
	m.Record(QueryEvent{Query: "invoice", ResultCount: 2, Latency: time.Millisecond})
	require.NoError(t, m.Close())

	terms, err := j.GetTopTerms(10)
	require.NoError(t, err)
	assert.Equal(t, []TermCount{{Term: "invoice", Count: 2}, {Term: "totals", Count: 1}}, terms)

	zero, err := j.GetZeroResultQueries(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice totals"}, zero)

	today := time.Now().Format("2006-01-02")
	latencies, err := j.GetLatencyCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latencies[BucketP10])
}
