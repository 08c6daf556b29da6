package monitoring

import (
	"context"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ConnectionSource is the read side of the connection manager the
// collector samples.
type ConnectionSource interface {
	Connections() []domain.PeerConnection
	Connection(id domain.ConnectionID) (domain.PeerConnection, bool)
	GetStats(id domain.ConnectionID) (domain.ConnectionStats, bool)
}

type PrometheusCollector struct {
	source ConnectionSource
	logger *zap.SugaredLogger

	// Counters
	transitionsTotal        *prometheus.CounterVec
	failuresTotal           prometheus.Counter
	candidatesTotal         prometheus.Counter
	remoteStreamsTotal      prometheus.Counter
	dataChannelMessageTotal prometheus.Counter

	// Gauges
	connectionsByState *prometheus.GaugeVec
	candidatesBuffered prometheus.Gauge
	localStreams       prometheus.Gauge

	// Histograms
	timeToConnect prometheus.Histogram

	// Per connection transport quality
	packetLoss       *prometheus.GaugeVec
	roundTripTime    *prometheus.GaugeVec
	bitrate          *prometheus.GaugeVec
	nacks            *prometheus.GaugeVec
	remoteCandidates *prometheus.GaugeVec
}

// NewPrometheusCollector registers the connection metrics on reg.
func NewPrometheusCollector(reg prometheus.Registerer, source ConnectionSource, logger *zap.SugaredLogger) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		source: source,
		logger: logger,

		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_connection_transitions_total",
			Help: "Connection state transitions",
		}, []string{"from", "to"}),

		failuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_connection_failures_total",
			Help: "Connections that reached the failed state",
		}),

		candidatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_candidates_generated_total",
			Help: "Local ICE candidates emitted for signaling",
		}),

		remoteStreamsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_remote_streams_total",
			Help: "Remote streams that became available",
		}),

		dataChannelMessageTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_data_channel_messages_total",
			Help: "Messages received on data channels",
		}),

		connectionsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerlink_connections",
			Help: "Managed connections by state",
		}, []string{"state"}),

		candidatesBuffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "peerlink_candidates_buffered",
			Help: "Remote candidates waiting for a remote description",
		}),

		localStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "peerlink_local_streams",
			Help: "Acquired local media streams",
		}),

		timeToConnect: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "peerlink_time_to_connect_seconds",
			Help:    "Time from connection creation to the first connected state",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),

		packetLoss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerlink_connection_packet_loss_ratio",
			Help: "Packet loss reported by RTCP (0-1)",
		}, []string{"connection_id"}),

		roundTripTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerlink_connection_round_trip_seconds",
			Help: "Round trip time to the remote peer",
		}, []string{"connection_id"}),

		bitrate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerlink_connection_bitrate_bps",
			Help: "Media bitrate in bits per second",
		}, []string{"connection_id", "direction"}),

		nacks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerlink_connection_nacks",
			Help: "Retransmissions requested by the remote peer",
		}, []string{"connection_id"}),

		remoteCandidates: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerlink_connection_remote_candidates",
			Help: "Remote ICE candidates handed to the transport, by outcome",
		}, []string{"connection_id", "result"}),
	}
}

// Subscribe feeds bus events into the counters until the returned function
// is called.
func (p *PrometheusCollector) Subscribe(bus ports.EventBus) func() {
	return bus.Subscribe("prometheus", ports.EventFilter{
		Types: []domain.EventType{
			domain.EventConnectionStateChanged,
			domain.EventCandidateGenerated,
			domain.EventRemoteStreamAvailable,
			domain.EventDataChannelMessage,
			domain.EventStreamLifecycle,
		},
	}, p.Handle)
}

func (p *PrometheusCollector) Handle(event domain.Event) {
	switch event.Type {
	case domain.EventConnectionStateChanged:
		change := event.State
		p.transitionsTotal.WithLabelValues(string(change.From), string(change.To)).Inc()
		switch change.To {
		case domain.StateFailed:
			p.failuresTotal.Inc()
		case domain.StateConnected:
			if change.From == domain.StateNegotiating {
				p.recordTimeToConnect(event.ConnectionID)
			}
		}

	case domain.EventCandidateGenerated:
		p.candidatesTotal.Inc()

	case domain.EventRemoteStreamAvailable:
		p.remoteStreamsTotal.Inc()

	case domain.EventDataChannelMessage:
		p.dataChannelMessageTotal.Inc()

	case domain.EventStreamLifecycle:
		if event.Stream.Ownership != domain.OwnershipLocal {
			return
		}
		switch event.Stream.Action {
		case domain.StreamAcquired:
			p.localStreams.Inc()
		case domain.StreamReleased:
			p.localStreams.Dec()
		}
	}
}

func (p *PrometheusCollector) recordTimeToConnect(id domain.ConnectionID) {
	pc, ok := p.source.Connection(id)
	if !ok || pc.ConnectedAt.IsZero() {
		return
	}
	p.timeToConnect.Observe(pc.ConnectedAt.Sub(pc.CreatedAt).Seconds())
}

// Sample refreshes the gauges derived from connection snapshots and stats.
func (p *PrometheusCollector) Sample() {
	counts := make(map[domain.ConnectionState]int)
	buffered := 0

	p.packetLoss.Reset()
	p.roundTripTime.Reset()
	p.bitrate.Reset()
	p.nacks.Reset()
	p.remoteCandidates.Reset()

	for _, pc := range p.source.Connections() {
		counts[pc.State]++
		buffered += len(pc.PendingCandidates)

		if pc.State.Terminal() {
			continue
		}
		id := string(pc.ID)
		p.remoteCandidates.WithLabelValues(id, "applied").Set(float64(pc.CandidatesApplied - pc.CandidatesFailed))
		p.remoteCandidates.WithLabelValues(id, "failed").Set(float64(pc.CandidatesFailed))

		stats, ok := p.source.GetStats(pc.ID)
		if !ok {
			continue
		}
		p.packetLoss.WithLabelValues(id).Set(stats.PacketLoss)
		p.roundTripTime.WithLabelValues(id).Set(stats.RoundTripTime.Seconds())
		p.bitrate.WithLabelValues(id, "inbound").Set(float64(stats.InboundBitrate))
		p.bitrate.WithLabelValues(id, "outbound").Set(float64(stats.OutboundBitrate))
		p.nacks.WithLabelValues(id).Set(float64(stats.NACKs))
	}

	for _, state := range domain.States() {
		p.connectionsByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
	p.candidatesBuffered.Set(float64(buffered))
}

// Run samples every interval until ctx is done.
func (p *PrometheusCollector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sample()
		}
	}
}
