package media

import (
	"context"
	"errors"
	"fmt"
	"net"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const defaultMTU = 1500

var ErrNoSource = errors.New("no feed configured")

// Source lists the UDP addresses an RTP feed for one stream kind arrives on.
type Source struct {
	AudioAddr string
	VideoAddr string
}

type Config struct {
	Sources       map[domain.StreamKind]Source
	AudioMimeType string
	VideoMimeType string
	MTU           int
}

// RTPCapturer turns externally produced RTP feeds (ffmpeg, gstreamer, a
// hardware encoder) into local tracks. Each track owns its UDP socket for as
// long as the stream is held.
type RTPCapturer struct {
	config Config
	logger *zap.SugaredLogger
}

var _ ports.MediaCapturer = (*RTPCapturer)(nil)

func NewRTPCapturer(config Config, logger *zap.SugaredLogger) *RTPCapturer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if config.AudioMimeType == "" {
		config.AudioMimeType = webrtc.MimeTypeOpus
	}
	if config.VideoMimeType == "" {
		config.VideoMimeType = webrtc.MimeTypeVP8
	}
	if config.MTU <= 0 {
		config.MTU = defaultMTU
	}
	return &RTPCapturer{config: config, logger: logger}
}

func (c *RTPCapturer) Capture(ctx context.Context, streamID domain.StreamID, constraints domain.MediaConstraints) (ports.CapturedStream, error) {
	source, ok := c.config.Sources[constraints.Kind]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoSource, constraints.Kind)
	}

	stream := &capturedStream{}
	for _, kind := range constraints.WantedKinds() {
		if err := ctx.Err(); err != nil {
			stream.Stop()
			return nil, err
		}

		addr, mime := source.AudioAddr, c.config.AudioMimeType
		if kind == domain.TrackKindVideo {
			addr, mime = source.VideoAddr, c.config.VideoMimeType
		}
		if addr == "" {
			stream.Stop()
			return nil, fmt.Errorf("%w: %s %s", ErrNoSource, constraints.Kind, kind)
		}

		track, err := c.openTrack(streamID, kind, addr, mime)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.tracks = append(stream.tracks, track)
	}
	return stream, nil
}

func (c *RTPCapturer) openTrack(streamID domain.StreamID, kind domain.TrackKind, addr, mime string) (*rtpTrack, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s feed %s: %w", kind, addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen for %s feed on %s: %w", kind, addr, err)
	}

	id := domain.TrackID(fmt.Sprintf("%s-%s", streamID, kind))
	local, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, string(id), string(streamID))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	track := newRTPTrack(id, kind, conn, local, c.logger.With("track_id", id))
	go track.pump(c.config.MTU)

	c.logger.Infow("listening for RTP feed",
		"stream_id", streamID,
		"kind", kind,
		"addr", conn.LocalAddr().String(),
		"mime_type", mime,
	)
	return track, nil
}

type capturedStream struct {
	tracks []ports.LocalTrack
}

func (s *capturedStream) Tracks() []ports.LocalTrack {
	return s.tracks
}

func (s *capturedStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
