package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice bridge
type Metrics struct {
	// Call lifecycle metrics
	CallsStarted prometheus.Counter
	CallsEnded   *prometheus.CounterVec
	ActiveCalls  prometheus.Gauge
	CallDuration prometheus.Histogram
	Reconnects   prometheus.Counter

	// Capture metrics
	SendBatches      prometheus.Counter
	SendBatchBytes   prometheus.Histogram
	DroppedEnvelopes prometheus.Counter
	CaptureFrames    prometheus.Counter

	// Playback metrics
	ChunksScheduled    prometheus.Counter
	ChunksDropped      *prometheus.CounterVec
	PlaybackQueueDepth prometheus.Gauge
	Interruptions      prometheus.Counter

	// Environment metrics
	NoiseProfileChanges  *prometheus.CounterVec
	ConnectionSufficient prometheus.Gauge
	ConnectionRTT        prometheus.Histogram

	// Transport metrics
	InboundMessages *prometheus.CounterVec
	MalformedFrames prometheus.Counter
	Utterances      *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CallsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_calls_started_total",
			Help: "Total number of calls that reached the starting state",
		}),
		CallsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_calls_ended_total",
			Help: "Total number of calls ended, by reason",
		}, []string{"reason"}),
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_active_calls",
			Help: "Current number of calls in the active state",
		}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_call_duration_seconds",
			Help:    "Duration of finished calls",
			Buckets: prometheus.ExponentialBuckets(5, 2, 9), // 5s to ~21 minutes
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_reconnects_total",
			Help: "Total number of transport reconnect attempts",
		}),

		SendBatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_send_batches_total",
			Help: "Total number of audio batches handed to the transport",
		}),
		SendBatchBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_send_batch_bytes",
			Help:    "Size of outbound audio batches",
			Buckets: prometheus.ExponentialBuckets(256, 2, 8),
		}),
		DroppedEnvelopes: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_dropped_envelopes_total",
			Help: "Outbound audio batches dropped because the transport lagged or was reconnecting",
		}),
		CaptureFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_capture_frames_total",
			Help: "Total number of capture frames received from devices",
		}),

		ChunksScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_playback_chunks_scheduled_total",
			Help: "Total number of inbound chunks scheduled for playback",
		}),
		ChunksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_playback_chunks_dropped_total",
			Help: "Inbound chunks dropped before playback, by reason",
		}, []string{"reason"}),
		PlaybackQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_playback_queue_depth",
			Help: "Current number of chunks waiting in playback queues",
		}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_interruptions_total",
			Help: "Total number of barge-in interruptions",
		}),

		NoiseProfileChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_noise_profile_changes_total",
			Help: "VAD profile switches triggered by the noise monitor",
		}, []string{"profile"}),
		ConnectionSufficient: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_connection_sufficient",
			Help: "1 when the last connection quality sample allows new calls",
		}),
		ConnectionRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_connection_rtt_seconds",
			Help:    "Round-trip time measured by the connection quality probe",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),

		InboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_transport_inbound_events_total",
			Help: "Decoded inbound transport events, by kind",
		}, []string{"kind"}),
		MalformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_transport_malformed_frames_total",
			Help: "Inbound frames that could not be decoded",
		}),
		Utterances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_utterances_total",
			Help: "Finalized transcript utterances, by role",
		}, []string{"role"}),
	}
}

// NewNop returns metrics registered on a private registry, for tests and tools
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
