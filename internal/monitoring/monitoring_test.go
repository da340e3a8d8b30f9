package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsCollectorComputesSavingsPercent(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordRequest(true, 0)
	mc.RecordRequest(false, 0)
	mc.RecordCompression(1000, 800, true)
	mc.RecordCacheHit()
	mc.RecordCacheHit()
	mc.RecordCacheMiss()

	stats := mc.FullStats()
	assert.Equal(t, int64(2), stats.Requests.Total)
	assert.Equal(t, int64(1), stats.Requests.Successful)
	assert.InDelta(t, 80.0, stats.Tokens.SavingsPercent, 0.01)
	assert.InDelta(t, 66.66, stats.Compression.CacheHitRate, 0.1)
}

func TestRequestLogRingBufferDropsOldest(t *testing.T) {
	l := &RequestLog{entries: make([]RequestLogEntry, 0, 3)}
	for i := 0; i < 5; i++ {
		l.Record(RequestLogEntry{RequestID: string(rune('a' + i)), Timestamp: time.Now()})
	}
	assert.LessOrEqual(t, l.Count(), 3)
}

func TestRequestLogRecentReturnsNewestFirst(t *testing.T) {
	l := NewRequestLog()
	l.Record(RequestLogEntry{RequestID: "first"})
	l.Record(RequestLogEntry{RequestID: "second"})

	recent := l.Recent(2)
	assert.Equal(t, "second", recent[0].RequestID)
	assert.Equal(t, "first", recent[1].RequestID)
}
