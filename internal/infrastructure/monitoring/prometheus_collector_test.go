package monitoring

import (
	"testing"
	"time"

	"peerlink/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type staticSource struct {
	conns []domain.PeerConnection
	stats map[domain.ConnectionID]domain.ConnectionStats
}

func (s *staticSource) Connections() []domain.PeerConnection { return s.conns }

func (s *staticSource) Connection(id domain.ConnectionID) (domain.PeerConnection, bool) {
	for _, pc := range s.conns {
		if pc.ID == id {
			return pc, true
		}
	}
	return domain.PeerConnection{}, false
}

func (s *staticSource) GetStats(id domain.ConnectionID) (domain.ConnectionStats, bool) {
	st, ok := s.stats[id]
	return st, ok
}

func stateEvent(id domain.ConnectionID, from, to domain.ConnectionState) domain.Event {
	return domain.Event{
		Type:         domain.EventConnectionStateChanged,
		ConnectionID: id,
		State:        &domain.StateChange{From: from, To: to},
	}
}

func TestPrometheusCollector_Handle(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	source := &staticSource{conns: []domain.PeerConnection{{
		ID:          "peer-1",
		State:       domain.StateConnected,
		CreatedAt:   created,
		ConnectedAt: created.Add(300 * time.Millisecond),
	}}}
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg, source, zaptest.NewLogger(t).Sugar())

	c.Handle(stateEvent("peer-1", domain.StateNew, domain.StateNegotiating))
	c.Handle(stateEvent("peer-1", domain.StateNegotiating, domain.StateConnected))
	c.Handle(stateEvent("peer-2", domain.StateNegotiating, domain.StateFailed))
	c.Handle(domain.Event{Type: domain.EventCandidateGenerated, ConnectionID: "peer-1"})
	c.Handle(domain.Event{Type: domain.EventCandidateGenerated, ConnectionID: "peer-1"})
	c.Handle(domain.Event{
		Type:   domain.EventStreamLifecycle,
		Stream: &domain.StreamEvent{StreamID: "local", Action: domain.StreamAcquired, Ownership: domain.OwnershipLocal},
	})
	c.Handle(domain.Event{
		Type:   domain.EventStreamLifecycle,
		Stream: &domain.StreamEvent{StreamID: "remote", Action: domain.StreamReleased, Ownership: domain.OwnershipRemote},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitionsTotal.WithLabelValues("new", "negotiating")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitionsTotal.WithLabelValues("negotiating", "connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failuresTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.candidatesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.localStreams))
	assert.Equal(t, 1, testutil.CollectAndCount(c.timeToConnect))
}

func TestPrometheusCollector_Sample(t *testing.T) {
	source := &staticSource{
		conns: []domain.PeerConnection{
			{ID: "a", State: domain.StateConnected, CandidatesApplied: 4, CandidatesFailed: 1},
			{ID: "b", State: domain.StateNegotiating, PendingCandidates: make([]domain.ICECandidate, 3)},
			{ID: "c", State: domain.StateNegotiating},
		},
		stats: map[domain.ConnectionID]domain.ConnectionStats{
			"a": {ConnectionID: "a", PacketLoss: 0.25, RoundTripTime: 40 * time.Millisecond, InboundBitrate: 64000, NACKs: 7},
		},
	}
	c := NewPrometheusCollector(prometheus.NewRegistry(), source, zaptest.NewLogger(t).Sugar())

	c.Sample()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsByState.WithLabelValues("connected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectionsByState.WithLabelValues("negotiating")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.connectionsByState.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.candidatesBuffered))
	assert.Equal(t, 0.25, testutil.ToFloat64(c.packetLoss.WithLabelValues("a")))
	assert.InDelta(t, 0.04, testutil.ToFloat64(c.roundTripTime.WithLabelValues("a")), 1e-9)
	assert.Equal(t, 64000.0, testutil.ToFloat64(c.bitrate.WithLabelValues("a", "inbound")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.nacks.WithLabelValues("a")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.remoteCandidates.WithLabelValues("a", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.remoteCandidates.WithLabelValues("a", "failed")))

	// Connections that went away drop their labelled series.
	source.conns = source.conns[1:]
	c.Sample()
	assert.Equal(t, 0, testutil.CollectAndCount(c.packetLoss))
	assert.Equal(t, 0, testutil.CollectAndCount(c.nacks))
	assert.Equal(t, 4, testutil.CollectAndCount(c.remoteCandidates), "b and c keep their candidate series")
	assert.Equal(t, 0.0, testutil.ToFloat64(c.connectionsByState.WithLabelValues("connected")))
}
