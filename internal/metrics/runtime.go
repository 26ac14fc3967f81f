package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const runtimeMetricsFileName = "runtime_metrics.json"

var latencyBucketUpperBoundsMs = []int64{
	10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000,
}

// Snapshot contains aggregated tool-call metrics, broken down by the MCP
// server that executed the call.
type Snapshot struct {
	UpdatedAt time.Time            `json:"updated_at"`
	Total     ToolStats            `json:"total"`
	Servers   map[string]ToolStats `json:"servers,omitempty"`
}

// ToolStats tracks tool execution metrics for one server or the aggregate.
type ToolStats struct {
	Calls             int64 `json:"calls"`
	Errors            int64 `json:"errors"`
	Timeouts          int64 `json:"timeouts"`
	TotalLatencyMs    int64 `json:"total_latency_ms"`
	MaxLatencyMs      int64 `json:"max_latency_ms"`
	LastLatencyMs     int64 `json:"last_latency_ms"`
	P95ProxyLatencyMs int64 `json:"p95_proxy_latency_ms,omitempty"`
}

// ErrorRatio returns errors/calls in [0,1].
func (t ToolStats) ErrorRatio() float64 {
	if t.Calls <= 0 {
		return 0
	}
	return float64(t.Errors) / float64(t.Calls)
}

// AvgLatencyMs returns average latency in milliseconds.
func (t ToolStats) AvgLatencyMs() float64 {
	if t.Calls <= 0 {
		return 0
	}
	return float64(t.TotalLatencyMs) / float64(t.Calls)
}

// HasData reports whether any tool calls were recorded.
func (s Snapshot) HasData() bool {
	return s.Total.Calls > 0
}

// ServerIDs returns the recorded server ids in stable order.
func (s Snapshot) ServerIDs() []string {
	ids := make([]string, 0, len(s.Servers))
	for id := range s.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Recorder records and persists tool-call metrics. A nil Recorder is a
// no-op, so callers never have to branch on whether metrics are enabled.
type Recorder struct {
	path string

	mu      sync.Mutex
	snap    Snapshot
	buckets []int64
}

// NewRecorder creates a recorder persisting to <baseDir>/state/runtime_metrics.json.
func NewRecorder(baseDir string) *Recorder {
	return &Recorder{
		path:    runtimeMetricsPath(baseDir),
		buckets: make([]int64, len(latencyBucketUpperBoundsMs)+1),
	}
}

// Snapshot returns the latest in-memory snapshot.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSnapshot(r.snap)
}

// RecordToolCall updates metrics for one routed tool call and persists the
// snapshot. Persistence failures are returned but the in-memory state is
// already updated.
func (r *Recorder) RecordToolCall(serverID string, duration time.Duration, callErr error) error {
	if r == nil {
		return nil
	}

	latencyMs := duration.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}

	r.mu.Lock()
	r.snap.UpdatedAt = time.Now().UTC()
	if r.snap.Servers == nil {
		r.snap.Servers = make(map[string]ToolStats)
	}

	applyCall(&r.snap.Total, latencyMs, callErr)
	perServer := r.snap.Servers[serverID]
	applyCall(&perServer, latencyMs, callErr)
	r.snap.Servers[serverID] = perServer

	r.buckets[latencyBucketIndex(latencyMs)]++
	r.snap.Total.P95ProxyLatencyMs = p95ProxyFromBuckets(r.buckets, r.snap.Total.Calls)

	snapshot := cloneSnapshot(r.snap)
	r.mu.Unlock()

	return persistSnapshot(r.path, snapshot)
}

func applyCall(stats *ToolStats, latencyMs int64, callErr error) {
	stats.Calls++
	stats.TotalLatencyMs += latencyMs
	stats.LastLatencyMs = latencyMs
	if latencyMs > stats.MaxLatencyMs {
		stats.MaxLatencyMs = latencyMs
	}
	if callErr != nil {
		stats.Errors++
		if isTimeoutError(callErr) {
			stats.Timeouts++
		}
	}
}

// ReadSnapshot reads the persisted snapshot. A missing file returns a
// zero-value snapshot and nil error.
func ReadSnapshot(baseDir string) (Snapshot, error) {
	raw, err := os.ReadFile(runtimeMetricsPath(baseDir))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("read runtime metrics: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode runtime metrics: %w", err)
	}
	return snap, nil
}

func cloneSnapshot(snap Snapshot) Snapshot {
	out := snap
	out.Servers = make(map[string]ToolStats, len(snap.Servers))
	for id, stats := range snap.Servers {
		out.Servers[id] = stats
	}
	return out
}

func runtimeMetricsPath(baseDir string) string {
	return filepath.Join(baseDir, "state", runtimeMetricsFileName)
}

func persistSnapshot(path string, snapshot Snapshot) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create runtime metrics dir: %w", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode runtime metrics: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write runtime metrics temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename runtime metrics file: %w", err)
	}
	return nil
}

func latencyBucketIndex(latencyMs int64) int {
	for i, upper := range latencyBucketUpperBoundsMs {
		if latencyMs <= upper {
			return i
		}
	}
	return len(latencyBucketUpperBoundsMs)
}

func p95ProxyFromBuckets(buckets []int64, total int64) int64 {
	if total <= 0 {
		return 0
	}
	target := int64(float64(total) * 0.95)
	if target <= 0 {
		target = 1
	}

	var cumulative int64
	for i, count := range buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		if i >= len(latencyBucketUpperBoundsMs) {
			return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
		}
		return latencyBucketUpperBoundsMs[i]
	}
	return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
}

func isTimeoutError(callErr error) bool {
	if errors.Is(callErr, context.DeadlineExceeded) {
		return true
	}
	lowered := strings.ToLower(strings.TrimSpace(fmt.Sprint(callErr)))
	return strings.Contains(lowered, "deadline exceeded") ||
		strings.Contains(lowered, "timeout") ||
		strings.Contains(lowered, "timed out")
}
