package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Barrier / checkpoint metrics
	BarrierRoundTripDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tidestream_barrier_round_trip_duration_seconds",
			Help:    "Time for a barrier to traverse the actor graph and collect from all actors",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tidestream_checkpoint_duration_seconds",
			Help:    "Time taken to sync a checkpoint barrier's writes into Hummock",
			Buckets: prometheus.DefBuckets,
		},
	)

	InFlightBarriers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidestream_in_flight_barriers",
			Help: "Number of barriers injected but not yet collected",
		},
	)

	BarrierCollectTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidestream_barrier_collect_timeouts_total",
			Help: "Total number of barrier collections that exceeded the collect timeout",
		},
	)

	// Hummock / compaction metrics
	CompactionTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidestream_compaction_task_duration_seconds",
			Help:    "Time taken to run a compaction task by picker kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"picker"},
	)

	CompactionBytesRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidestream_compaction_bytes_read_total",
			Help: "Total bytes read by compaction tasks by picker kind",
		},
		[]string{"picker"},
	)

	CompactionBytesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidestream_compaction_bytes_written_total",
			Help: "Total bytes written by compaction tasks by picker kind",
		},
		[]string{"picker"},
	)

	CompactionTasksFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidestream_compaction_tasks_failed_total",
			Help: "Total number of compaction tasks that failed or were cancelled",
		},
		[]string{"reason"},
	)

	SharedBufferFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tidestream_shared_buffer_flush_duration_seconds",
			Help:    "Time taken to flush a shared buffer batch into sstables",
			Buckets: prometheus.DefBuckets,
		},
	)

	SharedBufferSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidestream_shared_buffer_size_bytes",
			Help: "Current size of the unflushed shared buffer in bytes",
		},
	)

	// Cache metrics
	BlockCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidestream_block_cache_hits_total",
			Help: "Total number of block cache lookups that hit",
		},
	)

	BlockCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidestream_block_cache_misses_total",
			Help: "Total number of block cache lookups that missed",
		},
	)

	MetaCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidestream_meta_cache_hits_total",
			Help: "Total number of sstable meta cache lookups that hit",
		},
	)

	MetaCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidestream_meta_cache_misses_total",
			Help: "Total number of sstable meta cache lookups that missed",
		},
	)

	// Actor / dispatcher metrics
	ActorInboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tidestream_actor_inbox_depth",
			Help: "Number of messages queued in an actor's inbox",
		},
		[]string{"actor_id"},
	)

	ActorProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidestream_actor_process_duration_seconds",
			Help:    "Time taken by an actor to process one message",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"executor"},
	)

	// Raft / meta metrics (carried from the teacher's manager package)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidestream_raft_is_leader",
			Help: "Whether this meta node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidestream_raft_peers_total",
			Help: "Total number of Raft peers in the meta cluster",
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tidestream_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker registry / reconciliation metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tidestream_workers_total",
			Help: "Total number of registered compute/compactor workers by kind and status",
		},
		[]string{"kind", "status"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tidestream_reconciliation_duration_seconds",
			Help:    "Time taken for a worker-health reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidestream_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	// Object store metrics
	ObjectStoreRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidestream_object_store_request_duration_seconds",
			Help:    "Object store request duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ObjectStoreRequestsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidestream_object_store_requests_failed_total",
			Help: "Total number of object store requests that failed after retries",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		BarrierRoundTripDuration,
		CheckpointDuration,
		InFlightBarriers,
		BarrierCollectTimeoutsTotal,
		CompactionTaskDuration,
		CompactionBytesRead,
		CompactionBytesWritten,
		CompactionTasksFailed,
		SharedBufferFlushDuration,
		SharedBufferSizeBytes,
		BlockCacheHitsTotal,
		BlockCacheMissesTotal,
		MetaCacheHitsTotal,
		MetaCacheMissesTotal,
		ActorInboxDepth,
		ActorProcessDuration,
		RaftLeader,
		RaftPeers,
		RaftCommitDuration,
		WorkersTotal,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ObjectStoreRequestDuration,
		ObjectStoreRequestsFailed,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
