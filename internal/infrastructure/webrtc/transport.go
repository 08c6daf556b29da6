package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedTrack = errors.New("track cannot be sent over a pion transport")
	errTrackNotAttached = errors.New("track not attached")
)

// RTPTrack is a local track backed by a pion TrackLocal.
type RTPTrack interface {
	ports.LocalTrack
	TrackLocal() webrtc.TrackLocal
}

// Transport adapts a pion PeerConnection to ports.PeerTransport.
type Transport struct {
	id       domain.ConnectionID
	pc       *webrtc.PeerConnection
	handlers ports.TransportHandlers
	stats    *statsRecorder
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	senders  map[domain.TrackID]*webrtc.RTPSender
	channels map[string]*webrtc.DataChannel

	done      chan struct{}
	closeOnce sync.Once
}

var _ ports.PeerTransport = (*Transport)(nil)

func newTransport(id domain.ConnectionID, pc *webrtc.PeerConnection, handlers ports.TransportHandlers, logger *zap.SugaredLogger) *Transport {
	return &Transport{
		id:       id,
		pc:       pc,
		handlers: handlers,
		stats:    newStatsRecorder(),
		logger:   logger,
		senders:  make(map[domain.TrackID]*webrtc.RTPSender),
		channels: make(map[string]*webrtc.DataChannel),
		done:     make(chan struct{}),
	}
}

func (t *Transport) wire() {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || t.handlers.OnICECandidate == nil {
			return
		}
		t.handlers.OnICECandidate(fromCandidateInit(c.ToJSON()))
	})

	t.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.logger.Infow("ICE connection state changed", "ice_state", state)
		if t.handlers.OnICEConnectionStateChange != nil {
			t.handlers.OnICEConnectionStateChange(domain.ICEConnectionState(state.String()))
		}
	})

	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debugw("peer connection state changed", "connection_state", state)
		if t.handlers.OnConnectionStateChange == nil {
			return
		}
		// "connecting" has no ICE counterpart the state machine cares about.
		switch state {
		case webrtc.PeerConnectionStateConnected,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed:
			t.handlers.OnConnectionStateChange(domain.ICEConnectionState(state.String()))
		}
	})

	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.logger.Infow("remote track started",
			"track_id", track.ID(),
			"stream_id", track.StreamID(),
			"codec", track.Codec().MimeType,
		)
		if t.handlers.OnTrack != nil {
			t.handlers.OnTrack(ports.RemoteTrack{
				ID:       domain.TrackID(track.ID()),
				StreamID: domain.StreamID(track.StreamID()),
				Kind:     domain.TrackKind(track.Kind().String()),
			})
		}
		go t.readRemoteTrack(track)
		go t.readReceiverRTCP(receiver)
	})

	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.registerChannel(dc)
	})
}

func (t *Transport) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromSessionDescription(offer), nil
}

func (t *Transport) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromSessionDescription(answer), nil
}

func (t *Transport) SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error {
	return t.pc.SetLocalDescription(toSessionDescription(desc))
}

func (t *Transport) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	return t.pc.SetRemoteDescription(toSessionDescription(desc))
}

func (t *Transport) AddICECandidate(candidate domain.ICECandidate) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	})
}

func (t *Transport) AddTrack(track ports.LocalTrack) error {
	rtpTrack, ok := track.(RTPTrack)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedTrack, track.ID())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.senders[track.ID()]; exists {
		return nil
	}
	sender, err := t.pc.AddTrack(rtpTrack.TrackLocal())
	if err != nil {
		return err
	}
	t.senders[track.ID()] = sender

	go t.readSenderRTCP(track.ID(), sender)
	return nil
}

func (t *Transport) RemoveTrack(trackID domain.TrackID) error {
	t.mu.Lock()
	sender, ok := t.senders[trackID]
	delete(t.senders, trackID)
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", errTrackNotAttached, trackID)
	}
	return t.pc.RemoveTrack(sender)
}

func (t *Transport) CreateDataChannel(label string) error {
	dc, err := t.pc.CreateDataChannel(label, nil)
	if err != nil {
		return err
	}
	t.registerChannel(dc)
	return nil
}

func (t *Transport) SendData(label string, data []byte) error {
	t.mu.Lock()
	dc, ok := t.channels[label]
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrDataChannelNotFound, label)
	}
	return dc.Send(data)
}

// Stats merges RTCP-derived quality with the transport byte counters.
// Bitrates are the ones computed by the last sample.
func (t *Transport) Stats() domain.ConnectionStats {
	bytesSent, bytesReceived, candidateRTT := t.counters()
	return t.stats.snapshot(t.id, bytesSent, bytesReceived, candidateRTT)
}

// sampleLoop refreshes the bitrate baseline every interval until Close.
func (t *Transport) sampleLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			sent, received, _ := t.counters()
			t.stats.sample(sent, received)
		}
	}
}

func (t *Transport) counters() (bytesSent, bytesReceived uint64, candidateRTT float64) {
	for _, s := range t.pc.GetStats() {
		switch st := s.(type) {
		case webrtc.TransportStats:
			bytesSent += st.BytesSent
			bytesReceived += st.BytesReceived
		case webrtc.ICECandidatePairStats:
			if st.Nominated && st.CurrentRoundTripTime > 0 {
				candidateRTT = st.CurrentRoundTripTime
			}
		}
	}
	return bytesSent, bytesReceived, candidateRTT
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return t.pc.Close()
}

func (t *Transport) registerChannel(dc *webrtc.DataChannel) {
	label := dc.Label()

	t.mu.Lock()
	t.channels[label] = dc
	t.mu.Unlock()

	notify := func(state domain.DataChannelState) {
		if t.handlers.OnDataChannelState != nil {
			t.handlers.OnDataChannelState(label, state)
		}
	}

	dc.OnOpen(func() {
		t.logger.Infow("data channel open", "label", label)
		notify(domain.DataChannelOpen)
	})
	dc.OnClose(func() {
		t.mu.Lock()
		if t.channels[label] == dc {
			delete(t.channels, label)
		}
		t.mu.Unlock()
		notify(domain.DataChannelClosed)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if t.handlers.OnDataChannelMessage != nil {
			t.handlers.OnDataChannelMessage(label, msg.Data, msg.IsString)
		}
	})
}

// readRemoteTrack drains inbound RTP so the interceptors keep producing
// reports, counting what arrives for the inbound bitrate.
func (t *Transport) readRemoteTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			t.logger.Debugw("remote track ended", "track_id", track.ID(), "error", err)
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.logger.Debugw("dropping malformed RTP packet", "track_id", track.ID(), "error", err)
			continue
		}
		t.stats.recordInbound(n)
	}
}

func (t *Transport) readReceiverRTCP(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		t.stats.recordRTCP(packets)
	}
}

func (t *Transport) readSenderRTCP(trackID domain.TrackID, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			t.logger.Debugw("sender RTCP loop ended", "track_id", trackID, "error", err)
			return
		}
		t.stats.recordRTCP(packets)
	}
}

func fromCandidateInit(c webrtc.ICECandidateInit) domain.ICECandidate {
	return domain.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromSessionDescription(d webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPType(d.Type.String()), SDP: d.SDP}
}

func toSessionDescription(d domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(d.Type)), SDP: d.SDP}
}
