package webrtc

import (
	"sync"
	"time"

	"peerlink/internal/core/domain"

	"github.com/pion/rtcp"
)

// ntpEpochOffset is the number of seconds between 1900 and 1970.
const ntpEpochOffset = 2208988800

type statsRecorder struct {
	now func() time.Time

	mu           sync.Mutex
	packetLoss   float64
	rtt          time.Duration
	nacks        int
	inboundBytes uint64

	lastSample   time.Time
	lastSent     uint64
	lastReceived uint64
	lastOutRate  int
	lastInRate   int
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{now: time.Now}
}

// recordRTCP folds a compound RTCP packet into the running quality figures.
// Receiver reports carry loss as a fraction of 256 and enough timing to
// derive round trip time per RFC 3550 section 6.4.1.
func (r *statsRecorder) recordRTCP(packets []rtcp.Packet) {
	var lossSum float64
	var rttSum time.Duration
	var reports, rttReports int

	now := r.now()
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				lossSum += float64(report.FractionLost) / 256.0
				reports++
				if rtt, ok := roundTrip(now, report.LastSenderReport, report.Delay); ok {
					rttSum += rtt
					rttReports++
				}
			}
		case *rtcp.SenderReport:
			for _, report := range p.Reports {
				lossSum += float64(report.FractionLost) / 256.0
				reports++
			}
		case *rtcp.TransportLayerNack:
			r.mu.Lock()
			r.nacks += len(p.Nacks)
			r.mu.Unlock()
		}
	}

	if reports == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.packetLoss = lossSum / float64(reports)
	if rttReports > 0 {
		r.rtt = rttSum / time.Duration(rttReports)
	}
}

func (r *statsRecorder) recordInbound(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inboundBytes += uint64(n)
}

// sample moves the bitrate baseline. Only the transport's sampler calls it;
// bitrates are averaged over the interval since the previous sample.
func (r *statsRecorder) sample(bytesSent, bytesReceived uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if bytesReceived < r.inboundBytes {
		bytesReceived = r.inboundBytes
	}

	if !r.lastSample.IsZero() {
		if elapsed := now.Sub(r.lastSample).Seconds(); elapsed > 0 {
			r.lastOutRate = bitrate(bytesSent, r.lastSent, elapsed)
			r.lastInRate = bitrate(bytesReceived, r.lastReceived, elapsed)
		}
	}
	r.lastSample = now
	r.lastSent = bytesSent
	r.lastReceived = bytesReceived
}

// snapshot combines the recorded figures with live transport counters. It
// does not change any state, so concurrent readers see the same bitrates.
func (r *statsRecorder) snapshot(id domain.ConnectionID, bytesSent, bytesReceived uint64, candidateRTT float64) domain.ConnectionStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bytesReceived < r.inboundBytes {
		bytesReceived = r.inboundBytes
	}

	rtt := r.rtt
	if rtt == 0 && candidateRTT > 0 {
		rtt = time.Duration(candidateRTT * float64(time.Second))
	}

	return domain.ConnectionStats{
		ConnectionID:    id,
		Timestamp:       r.now(),
		PacketLoss:      r.packetLoss,
		RoundTripTime:   rtt,
		InboundBitrate:  r.lastInRate,
		OutboundBitrate: r.lastOutRate,
		BytesSent:       bytesSent,
		BytesReceived:   bytesReceived,
		NACKs:           r.nacks,
	}
}

func bitrate(current, previous uint64, seconds float64) int {
	if current < previous {
		return 0
	}
	return int(float64(current-previous) * 8 / seconds)
}

// roundTrip computes RTT from the LSR and DLSR fields of a reception report,
// both expressed in 1/65536 s units of the NTP timeline.
func roundTrip(now time.Time, lsr, dlsr uint32) (time.Duration, bool) {
	if lsr == 0 {
		return 0, false
	}
	rtt := ntpMiddle(now) - lsr - dlsr
	// A wrapped value means clock skew or a stale report.
	if int32(rtt) <= 0 {
		return 0, false
	}
	return time.Duration(uint64(rtt) * uint64(time.Second) / 65536), true
}

func ntpMiddle(t time.Time) uint32 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return uint32(((secs << 32) | frac) >> 16)
}
