package media

import (
	"net"
	"sync"
	"sync/atomic"

	"peerlink/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// rtpTrack forwards packets from a UDP feed into a pion track. A disabled
// track keeps its socket and negotiation slot but drops every packet.
type rtpTrack struct {
	id     domain.TrackID
	kind   domain.TrackKind
	conn   *net.UDPConn
	local  *webrtc.TrackLocalStaticRTP
	logger *zap.SugaredLogger

	enabled   atomic.Bool
	forwarded atomic.Uint64
	dropped   atomic.Uint64

	stopOnce sync.Once
	done     chan struct{}
}

func newRTPTrack(id domain.TrackID, kind domain.TrackKind, conn *net.UDPConn, local *webrtc.TrackLocalStaticRTP, logger *zap.SugaredLogger) *rtpTrack {
	t := &rtpTrack{
		id:     id,
		kind:   kind,
		conn:   conn,
		local:  local,
		logger: logger,
		done:   make(chan struct{}),
	}
	t.enabled.Store(true)
	return t
}

func (t *rtpTrack) ID() domain.TrackID            { return t.id }
func (t *rtpTrack) Kind() domain.TrackKind        { return t.kind }
func (t *rtpTrack) Enabled() bool                 { return t.enabled.Load() }
func (t *rtpTrack) SetEnabled(enabled bool)       { t.enabled.Store(enabled) }
func (t *rtpTrack) TrackLocal() webrtc.TrackLocal { return t.local }

// Addr is the bound feed address, useful when configured with port 0.
func (t *rtpTrack) Addr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *rtpTrack) Stop() {
	t.stopOnce.Do(func() {
		t.conn.Close()
		<-t.done
		t.logger.Infow("RTP feed stopped",
			"forwarded", t.forwarded.Load(),
			"dropped", t.dropped.Load(),
		)
	})
}

func (t *rtpTrack) pump(mtu int) {
	defer close(t.done)

	buf := make([]byte, mtu)
	pkt := &rtp.Packet{}
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			return
		}
		if !t.enabled.Load() {
			t.dropped.Add(1)
			continue
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.logger.Debugw("dropping malformed RTP packet", "error", err)
			t.dropped.Add(1)
			continue
		}
		if err := t.local.WriteRTP(pkt); err != nil {
			t.logger.Warnw("failed to write RTP packet", "error", err)
			continue
		}
		t.forwarded.Add(1)
	}
}
