package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/tracing"

	"go.uber.org/zap"
)

var errNoTracks = errors.New("capture produced no tracks")

// MediaService owns every local stream acquired through it. Callers only see
// identifiers and snapshots.
type MediaService struct {
	capturer ports.MediaCapturer
	bus      ports.EventBus
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	streams   map[domain.StreamID]*localStream
	inflight  map[domain.StreamID]*acquisition
	onRelease []func(domain.StreamID)
}

type localStream struct {
	id        domain.StreamID
	kind      domain.StreamKind
	captured  ports.CapturedStream
	createdAt time.Time
}

type acquisition struct {
	done chan struct{}
	err  error
}

func NewMediaService(capturer ports.MediaCapturer, bus ports.EventBus, logger *zap.SugaredLogger) *MediaService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MediaService{
		capturer: capturer,
		bus:      bus,
		logger:   logger,
		streams:  make(map[domain.StreamID]*localStream),
		inflight: make(map[domain.StreamID]*acquisition),
	}
}

// Acquire returns the stream registered under streamID, capturing it first if
// needed. Concurrent calls for the same id share a single capture.
func (s *MediaService) Acquire(ctx context.Context, streamID domain.StreamID, constraints domain.MediaConstraints) (domain.MediaStream, error) {
	ctx, span := tracing.TraceMedia(ctx, "acquire", string(streamID))
	defer span.End()

	var acq *acquisition
	for acq == nil {
		s.mu.Lock()
		if ls, ok := s.streams[streamID]; ok {
			snapshot := ls.snapshot()
			s.mu.Unlock()
			return snapshot, nil
		}
		pending, busy := s.inflight[streamID]
		if !busy {
			acq = &acquisition{done: make(chan struct{})}
			s.inflight[streamID] = acq
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()

		select {
		case <-pending.done:
			if pending.err != nil {
				return domain.MediaStream{}, pending.err
			}
		case <-ctx.Done():
			return domain.MediaStream{}, fmt.Errorf("%w: stream %s: %w", domain.ErrMediaAcquisition, streamID, ctx.Err())
		}
	}

	constraints = constraints.Normalize()
	captured, err := s.capturer.Capture(ctx, streamID, constraints)
	if err == nil && len(captured.Tracks()) == 0 {
		captured.Stop()
		err = errNoTracks
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, streamID)

	if err != nil {
		acq.err = fmt.Errorf("%w: stream %s: %w", domain.ErrMediaAcquisition, streamID, err)
		close(acq.done)
		tracing.RecordError(ctx, acq.err)
		s.logger.Warnw("media acquisition failed",
			"stream_id", streamID,
			"kind", constraints.Kind,
			"error", err,
		)
		return domain.MediaStream{}, acq.err
	}

	ls := &localStream{
		id:        streamID,
		kind:      constraints.Kind,
		captured:  captured,
		createdAt: time.Now(),
	}
	s.streams[streamID] = ls
	close(acq.done)

	s.publish(streamID, domain.StreamAcquired, ls.kind, "")
	s.logger.Infow("local stream acquired",
		"stream_id", streamID,
		"kind", ls.kind,
		"tracks", len(captured.Tracks()),
	)
	return ls.snapshot(), nil
}

// SetTrackEnabled mutes or unmutes every track of the given kind. It never
// touches negotiation state.
func (s *MediaService) SetTrackEnabled(streamID domain.StreamID, kind domain.TrackKind, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, ok := s.streams[streamID]
	if !ok {
		return
	}

	changed := false
	for _, track := range ls.captured.Tracks() {
		if track.Kind() == kind && track.Enabled() != enabled {
			track.SetEnabled(enabled)
			changed = true
		}
	}
	if !changed {
		return
	}

	action := domain.StreamMuted
	if enabled {
		action = domain.StreamUnmuted
	}
	s.publish(streamID, action, ls.kind, kind)
}

// OnRelease registers fn to run whenever a stream is released. fn runs with
// the service lock held, before the tracks stop, so a re-acquire of the same
// id cannot interleave with it. fn must not call back into the service.
func (s *MediaService) OnRelease(fn func(domain.StreamID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRelease = append(s.onRelease, fn)
}

// Release stops and forgets the stream. Unknown ids are ignored.
func (s *MediaService) Release(streamID domain.StreamID) {
	s.mu.Lock()
	ls, ok := s.streams[streamID]
	if ok {
		delete(s.streams, streamID)
		for _, fn := range s.onRelease {
			fn(streamID)
		}
		s.publish(streamID, domain.StreamReleased, ls.kind, "")
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	ls.captured.Stop()
	s.logger.Infow("local stream released", "stream_id", streamID)
}

func (s *MediaService) Stream(streamID domain.StreamID) (domain.MediaStream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, ok := s.streams[streamID]
	if !ok {
		return domain.MediaStream{}, false
	}
	return ls.snapshot(), true
}

func (s *MediaService) Streams() []domain.MediaStream {
	s.mu.Lock()
	out := make([]domain.MediaStream, 0, len(s.streams))
	for _, ls := range s.streams {
		out = append(out, ls.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LocalTracks exposes the outbound tracks of a stream to the connection
// manager, which attaches them to transports.
func (s *MediaService) LocalTracks(streamID domain.StreamID) ([]ports.LocalTrack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, ok := s.streams[streamID]
	if !ok {
		return nil, false
	}
	return append([]ports.LocalTrack(nil), ls.captured.Tracks()...), true
}

// ReleaseAll stops every stream; used on shutdown.
func (s *MediaService) ReleaseAll() {
	for _, stream := range s.Streams() {
		s.Release(stream.ID)
	}
}

func (s *MediaService) publish(streamID domain.StreamID, action domain.StreamAction, kind domain.StreamKind, trackKind domain.TrackKind) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(domain.Event{
		Type: domain.EventStreamLifecycle,
		Stream: &domain.StreamEvent{
			StreamID:  streamID,
			Action:    action,
			Ownership: domain.OwnershipLocal,
			Kind:      kind,
			TrackKind: trackKind,
		},
	})
}

func (ls *localStream) snapshot() domain.MediaStream {
	tracks := ls.captured.Tracks()
	out := domain.MediaStream{
		ID:        ls.id,
		Ownership: domain.OwnershipLocal,
		Kind:      ls.kind,
		Tracks:    make([]domain.Track, 0, len(tracks)),
		CreatedAt: ls.createdAt,
	}
	for _, t := range tracks {
		out.Tracks = append(out.Tracks, domain.Track{ID: t.ID(), Kind: t.Kind(), Enabled: t.Enabled()})
	}
	return out
}
