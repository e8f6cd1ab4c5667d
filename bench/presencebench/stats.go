package main

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats 压测过程中的计数，计数器用原子操作，切片和 map 由 mu 保护
type Stats struct {
	mu sync.Mutex

	Attempts  atomic.Int64
	Joined    atomic.Int64
	Refused   atomic.Int64
	Failed    atomic.Int64
	Current   atomic.Int64
	Updates   atomic.Int64
	Received  atomic.Int64
	Resyncs   atomic.Int64 // 非首条 snapshot，说明服务端丢过事件
	Evicted   atomic.Int64 // 被服务端以 unknown_client 关闭
	WriteErrs atomic.Int64

	joinLatencies   []int64 // 纳秒，dial 到 welcome
	fanoutLatencies []int64 // 纳秒，服务端时间戳到本地收到
	events          map[string]int64
	errors          map[string]int64

	StartTime time.Time
	EndTime   time.Time
}

func newStats() *Stats {
	return &Stats{
		events:    make(map[string]int64),
		errors:    make(map[string]int64),
		StartTime: time.Now(),
	}
}

func (s *Stats) recordJoin(d time.Duration) {
	s.mu.Lock()
	s.joinLatencies = append(s.joinLatencies, d.Nanoseconds())
	s.mu.Unlock()
}

func (s *Stats) recordEvent(typ string, fanout time.Duration) {
	s.Received.Add(1)
	s.mu.Lock()
	s.events[typ]++
	if fanout > 0 {
		s.fanoutLatencies = append(s.fanoutLatencies, fanout.Nanoseconds())
	}
	s.mu.Unlock()
}

func (s *Stats) recordError(err string) {
	if len(err) > 60 {
		err = err[:60]
	}
	s.mu.Lock()
	s.errors[err]++
	s.mu.Unlock()
}

// LatencyStats 单位毫秒
type LatencyStats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P99    float64 `json:"p99"`
	StdDev float64 `json:"std_dev"`
}

func calculateLatencyStats(latencies []int64) LatencyStats {
	if len(latencies) == 0 {
		return LatencyStats{}
	}

	sorted := append([]int64(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	toMs := func(ns float64) float64 { return ns / 1e6 }
	pct := func(p int) float64 { return toMs(float64(sorted[(len(sorted)-1)*p/100])) }

	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}
	avg := sum / float64(len(sorted))

	var variance float64
	for _, v := range sorted {
		d := float64(v) - avg
		variance += d * d
	}
	variance /= float64(len(sorted))

	return LatencyStats{
		Count:  len(sorted),
		Min:    toMs(float64(sorted[0])),
		Max:    toMs(float64(sorted[len(sorted)-1])),
		Avg:    toMs(avg),
		P50:    pct(50),
		P90:    pct(90),
		P99:    pct(99),
		StdDev: toMs(math.Sqrt(variance)),
	}
}

// Result 最终报告
type Result struct {
	Config        Config           `json:"config"`
	Attempts      int64            `json:"attempts"`
	Joined        int64            `json:"joined"`
	Refused       int64            `json:"refused"`
	Failed        int64            `json:"failed"`
	FinalClients  int64            `json:"final_clients"`
	UpdatesSent   int64            `json:"updates_sent"`
	EventsRecv    int64            `json:"events_received"`
	Resyncs       int64            `json:"resyncs"`
	Evicted       int64            `json:"evicted"`
	WriteErrors   int64            `json:"write_errors"`
	JoinLatency   LatencyStats     `json:"join_latency_ms"`
	FanoutLatency LatencyStats     `json:"fanout_latency_ms"`
	Events        map[string]int64 `json:"events"`
	Errors        map[string]int64 `json:"errors"`
	ActualTime    float64          `json:"actual_time_seconds"`
}

func (s *Stats) result(cfg Config) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Result{
		Config:        cfg,
		Attempts:      s.Attempts.Load(),
		Joined:        s.Joined.Load(),
		Refused:       s.Refused.Load(),
		Failed:        s.Failed.Load(),
		FinalClients:  s.Current.Load(),
		UpdatesSent:   s.Updates.Load(),
		EventsRecv:    s.Received.Load(),
		Resyncs:       s.Resyncs.Load(),
		Evicted:       s.Evicted.Load(),
		WriteErrors:   s.WriteErrs.Load(),
		JoinLatency:   calculateLatencyStats(s.joinLatencies),
		FanoutLatency: calculateLatencyStats(s.fanoutLatencies),
		Events:        s.events,
		Errors:        s.errors,
		ActualTime:    s.EndTime.Sub(s.StartTime).Seconds(),
	}
}
