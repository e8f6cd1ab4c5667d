package main

import (
	"testing"
	"time"
)

func TestCalculateLatencyStats(t *testing.T) {
	var lat []int64
	for i := 100; i >= 1; i-- {
		lat = append(lat, int64(i)*int64(time.Millisecond))
	}
	got := calculateLatencyStats(lat)

	if got.Count != 100 || got.Min != 1 || got.Max != 100 {
		t.Fatalf("count/min/max: got=%+v", got)
	}
	if got.Avg != 50.5 {
		t.Fatalf("avg: want=50.5 got=%v", got.Avg)
	}
	if got.P50 != 50 || got.P90 != 90 || got.P99 != 99 {
		t.Fatalf("percentiles: got=%+v", got)
	}
	if lat[0] != int64(100*time.Millisecond) {
		t.Fatalf("input reordered")
	}
}

func TestCalculateLatencyStatsEmpty(t *testing.T) {
	if got := calculateLatencyStats(nil); got != (LatencyStats{}) {
		t.Fatalf("empty: got=%+v", got)
	}
}

func TestRecordErrorTruncates(t *testing.T) {
	s := newStats()
	long := "dial tcp 127.0.0.1:8086: connect: connection refused, and then some more text"
	s.recordError(long)
	s.recordError(long)
	if n := s.errors[long[:60]]; n != 2 {
		t.Fatalf("truncated key count: want=2 got=%d", n)
	}
}
