package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	stageRunsTotal     = newLabeledCounter()
	stageCacheTotal    = newLabeledCounter()
	stageFailuresTotal = newLabeledCounter()
	commandsTotal      = newLabeledCounter()
	snapshotsTotal     atomic.Uint64

	stageDuration = newHistogram([]float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000})
)

// IncStageRun counts a stage that recomputed its results.
func IncStageRun(stage string) {
	stageRunsTotal.Inc(stage)
}

// IncStageCache counts a stage that reused its cached results.
func IncStageCache(stage string) {
	stageCacheTotal.Inc(stage)
}

// IncStageFailure counts a stage whose compute failed.
func IncStageFailure(stage string) {
	stageFailuresTotal.Inc(stage)
}

// IncCommand counts a gateway command by type.
func IncCommand(kind string) {
	commandsTotal.Inc(kind)
}

// IncSnapshot counts an intermediate embedding snapshot.
func IncSnapshot() {
	snapshotsTotal.Add(1)
}

// ObserveStageDurationMs records a stage compute duration in milliseconds.
func ObserveStageDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	stageDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeLabeledCounter(&buf, "kana_stage_runs_total", "Stage computations", "stage", stageRunsTotal.Snapshot())
	writeLabeledCounter(&buf, "kana_stage_cache_total", "Stage cache reuses", "stage", stageCacheTotal.Snapshot())
	writeLabeledCounter(&buf, "kana_stage_failures_total", "Stage computation failures", "stage", stageFailuresTotal.Snapshot())
	writeLabeledCounter(&buf, "kana_commands_total", "Gateway commands handled", "type", commandsTotal.Snapshot())
	writeCounter(&buf, "kana_embedding_snapshots_total", "Intermediate embedding snapshots emitted", snapshotsTotal.Load())
	writeHistogram(&buf, "kana_stage_duration_ms", "Stage compute duration in milliseconds", stageDuration.Snapshot())
	return buf.String()
}

type labeledCounter struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{values: map[string]uint64{}}
}

func (l *labeledCounter) Inc(label string) {
	l.mu.Lock()
	l.values[label]++
	l.mu.Unlock()
}

func (l *labeledCounter) Get(label string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.values[label]
}

func (l *labeledCounter) Snapshot() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func writeLabeledCounter(buf *bytes.Buffer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// SinceMillis returns the elapsed time since start in milliseconds.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
