package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// PublishBuckets for broker round trips (network + replication ack)
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// CycleBuckets for a full tail cycle including ack waits
	CycleBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60}
)

// Tail Metrics
var (
	// LinesReadTotal counts complete lines read per file
	LinesReadTotal CounterVec = noopCounterVec{}

	// BytesReadTotal counts bytes read per file
	BytesReadTotal CounterVec = noopCounterVec{}

	// RotationsTotal counts truncations and rotations detected per file
	RotationsTotal CounterVec = noopCounterVec{}

	// OffsetCommitted tracks the last durably committed offset per file
	OffsetCommitted GaugeVec = noopGaugeVec{}

	// CycleDurationSeconds measures read-publish-commit cycle latency
	CycleDurationSeconds Histogram = NoopStat{}

	// OversizedLinesTotal counts partial lines force-emitted at the line limit
	OversizedLinesTotal CounterVec = noopCounterVec{}

	// FileLagBytes tracks bytes between the committed offset and the file end
	FileLagBytes GaugeVec = noopGaugeVec{}

	// TailErrorsTotal counts filesystem and offset store failures by stage (stat, read, commit)
	TailErrorsTotal CounterVec = noopCounterVec{}
)

// Publish Metrics
var (
	// MessagesPublishedTotal counts resolved messages by result (ok, failed)
	MessagesPublishedTotal CounterVec = noopCounterVec{}

	// PublishRetriesTotal counts message retry attempts
	PublishRetriesTotal Counter = NoopStat{}

	// PublishDurationSeconds measures Sink.Publish latency
	PublishDurationSeconds Histogram = NoopStat{}

	// PublishQueueDepth tracks messages waiting in dispatcher lanes
	PublishQueueDepth Gauge = NoopStat{}

	// RoutingErrorsTotal counts records whose channel name was rejected, per file
	RoutingErrorsTotal CounterVec = noopCounterVec{}

	// DeadLetteredTotal counts lines written to the dead-letter file, per file
	DeadLetteredTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Tail Metrics
	LinesReadTotal = NewCounterVec(
		"lines_read_total",
		"Total complete lines read by file",
		[]string{"file"},
	)
	BytesReadTotal = NewCounterVec(
		"bytes_read_total",
		"Total bytes read by file",
		[]string{"file"},
	)
	RotationsTotal = NewCounterVec(
		"rotations_total",
		"Truncations and rotations detected by file",
		[]string{"file"},
	)
	OffsetCommitted = NewGaugeVec(
		"offset_committed",
		"Last committed byte offset by file",
		[]string{"file"},
	)
	CycleDurationSeconds = NewHistogramWithBuckets(
		"cycle_duration_seconds",
		"Tail cycle duration in seconds",
		CycleBuckets,
	)
	OversizedLinesTotal = NewCounterVec(
		"oversized_lines_total",
		"Partial lines emitted after reaching the line size limit",
		[]string{"file"},
	)
	FileLagBytes = NewGaugeVec(
		"file_lag_bytes",
		"Bytes not yet committed by file",
		[]string{"file"},
	)
	TailErrorsTotal = NewCounterVec(
		"tail_errors_total",
		"Tail failures by stage",
		[]string{"stage"},
	)

	// Publish Metrics
	MessagesPublishedTotal = NewCounterVec(
		"messages_published_total",
		"Total messages resolved by result",
		[]string{"result"},
	)
	PublishRetriesTotal = NewCounter(
		"publish_retries_total",
		"Total message publish retries",
	)
	PublishDurationSeconds = NewHistogramWithBuckets(
		"publish_duration_seconds",
		"Broker publish call duration in seconds",
		PublishBuckets,
	)
	PublishQueueDepth = NewGauge(
		"publish_queue_depth",
		"Messages waiting in dispatcher lanes",
	)
	RoutingErrorsTotal = NewCounterVec(
		"routing_errors_total",
		"Records with an invalid channel name by file",
		[]string{"file"},
	)
	DeadLetteredTotal = NewCounterVec(
		"dead_lettered_total",
		"Lines written to the dead-letter file by file",
		[]string{"file"},
	)
}

func resetMetrics() {
	LinesReadTotal = noopCounterVec{}
	BytesReadTotal = noopCounterVec{}
	RotationsTotal = noopCounterVec{}
	OffsetCommitted = noopGaugeVec{}
	CycleDurationSeconds = NoopStat{}
	OversizedLinesTotal = noopCounterVec{}
	FileLagBytes = noopGaugeVec{}
	TailErrorsTotal = noopCounterVec{}
	MessagesPublishedTotal = noopCounterVec{}
	PublishRetriesTotal = NoopStat{}
	PublishDurationSeconds = NoopStat{}
	PublishQueueDepth = NoopStat{}
	RoutingErrorsTotal = noopCounterVec{}
	DeadLetteredTotal = noopCounterVec{}
}
