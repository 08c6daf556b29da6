package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// TrackSource resolves a local stream id to its outbound tracks and reports
// releases synchronously.
type TrackSource interface {
	LocalTracks(streamID domain.StreamID) ([]ports.LocalTrack, bool)
	OnRelease(fn func(domain.StreamID))
}

type ConnectionOptions struct {
	// DefaultStreamID is attached to every new connection when acquired.
	DefaultStreamID domain.StreamID
	// DisconnectedTimeout fails a connection that stays disconnected this
	// long. Zero leaves failure detection to the transport.
	DisconnectedTimeout time.Duration
}

// ConnectionService owns the set of active peer connections. Each
// connection is guarded by its own mutex; the registry mutex only protects
// the id -> entry table and is never held while touching an entry.
type ConnectionService struct {
	config  domain.ConnectionConfig
	factory ports.TransportFactory
	tracks  TrackSource
	bus     ports.EventBus
	tracker *StateTracker
	logger  *zap.SugaredLogger

	defaultStreamID domain.StreamID

	mu       sync.RWMutex
	conns    map[domain.ConnectionID]*connection
	reserved map[domain.ConnectionID]struct{}
}

type connection struct {
	id         domain.ConnectionID
	role       domain.Role
	transport  ports.PeerTransport
	candidates *CandidateBuffer
	createdAt  time.Time

	mu              sync.Mutex
	state           domain.ConnectionState
	negotiating     bool
	haveLocalOffer  bool
	remoteDescSet   bool
	descriptionSent bool
	outgoing        []domain.ICECandidate
	localStreams    []domain.StreamID
	localTracks     map[domain.StreamID][]domain.TrackID
	remote          *remoteStream
	dataChannels    map[string]domain.DataChannelState
	connectedAt     time.Time
	disconnectTimer *time.Timer
	timerGen        uint64
}

type remoteStream struct {
	id        domain.StreamID
	tracks    []domain.Track
	createdAt time.Time
}

func NewConnectionService(
	config domain.ConnectionConfig,
	factory ports.TransportFactory,
	tracks TrackSource,
	bus ports.EventBus,
	logger *zap.SugaredLogger,
	opts ConnectionOptions,
) *ConnectionService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &ConnectionService{
		config:          config.Clone(),
		factory:         factory,
		tracks:          tracks,
		bus:             bus,
		tracker:         NewStateTracker(bus, opts.DisconnectedTimeout, logger),
		logger:          logger,
		defaultStreamID: opts.DefaultStreamID,
		conns:           make(map[domain.ConnectionID]*connection),
		reserved:        make(map[domain.ConnectionID]struct{}),
	}

	if tracks != nil {
		tracks.OnRelease(s.detachEverywhere)
	}
	return s
}

// Config returns a copy of the immutable connection configuration.
func (s *ConnectionService) Config() domain.ConnectionConfig {
	return s.config.Clone()
}

// CreateConnection registers a new connection in state new and attaches the
// default local stream when one has been acquired.
func (s *ConnectionService) CreateConnection(ctx context.Context, id domain.ConnectionID, role domain.Role) (domain.PeerConnection, error) {
	if id == "" {
		return domain.PeerConnection{}, fmt.Errorf("%w: empty connection id", domain.ErrInvalidState)
	}
	if !role.Valid() {
		return domain.PeerConnection{}, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidState, role)
	}

	s.mu.Lock()
	if _, ok := s.conns[id]; ok {
		s.mu.Unlock()
		return domain.PeerConnection{}, fmt.Errorf("%w: %s", domain.ErrDuplicateConnection, id)
	}
	if _, ok := s.reserved[id]; ok {
		s.mu.Unlock()
		return domain.PeerConnection{}, fmt.Errorf("%w: %s", domain.ErrDuplicateConnection, id)
	}
	s.reserved[id] = struct{}{}
	s.mu.Unlock()

	c := &connection{
		id:           id,
		role:         role,
		createdAt:    time.Now(),
		state:        domain.StateNew,
		localTracks:  make(map[domain.StreamID][]domain.TrackID),
		dataChannels: make(map[string]domain.DataChannelState),
	}

	transport, err := s.factory.NewTransport(ctx, id, s.config.Clone(), s.handlersFor(c))
	if err != nil {
		s.mu.Lock()
		delete(s.reserved, id)
		s.mu.Unlock()
		return domain.PeerConnection{}, fmt.Errorf("create transport for %s: %w", id, err)
	}
	c.transport = transport
	c.candidates = NewCandidateBuffer(id, transport.AddICECandidate, s.logger)

	if s.defaultStreamID != "" && s.tracks != nil {
		if tracks, ok := s.tracks.LocalTracks(s.defaultStreamID); ok {
			c.mu.Lock()
			s.attachLocked(c, s.defaultStreamID, tracks)
			c.mu.Unlock()
		}
	}

	s.mu.Lock()
	delete(s.reserved, id)
	s.conns[id] = c
	s.mu.Unlock()

	s.logger.Infow("connection created",
		"connection_id", id,
		"role", role,
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(), nil
}

// CreateOffer produces and applies a local offer and emits it for the
// signaling channel. Only initiators may offer.
func (s *ConnectionService) CreateOffer(ctx context.Context, id domain.ConnectionID) (domain.SessionDescription, error) {
	ctx, span := tracing.TraceConnection(ctx, "create_offer", string(id))
	defer span.End()

	c, err := s.beginNegotiation(id, domain.RoleInitiator, nil)
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.SessionDescription{}, err
	}
	defer s.endNegotiation(c)

	offer, err := c.transport.CreateOffer(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.SessionDescription{}, fmt.Errorf("create offer for %s: %w", id, err)
	}
	if err := c.transport.SetLocalDescription(ctx, offer); err != nil {
		tracing.RecordError(ctx, err)
		return domain.SessionDescription{}, fmt.Errorf("set local offer for %s: %w", id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.StateClosed {
		return domain.SessionDescription{}, fmt.Errorf("%w: %s closed during negotiation", domain.ErrInvalidState, id)
	}
	c.haveLocalOffer = true
	s.emitDescriptionLocked(c, offer)

	return offer, nil
}

// HandleOffer applies a remote offer, replays buffered candidates and
// answers. Only responders accept offers.
func (s *ConnectionService) HandleOffer(ctx context.Context, id domain.ConnectionID, offer domain.SessionDescription) (domain.SessionDescription, error) {
	ctx, span := tracing.TraceConnection(ctx, "handle_offer", string(id))
	defer span.End()

	if offer.Type != domain.SDPTypeOffer {
		err := fmt.Errorf("%w: expected offer, got %q", domain.ErrInvalidState, offer.Type)
		tracing.RecordError(ctx, err)
		return domain.SessionDescription{}, err
	}

	c, err := s.beginNegotiation(id, domain.RoleResponder, nil)
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.SessionDescription{}, err
	}
	defer s.endNegotiation(c)

	if err := c.transport.SetRemoteDescription(ctx, offer); err != nil {
		tracing.RecordError(ctx, err)
		return domain.SessionDescription{}, fmt.Errorf("set remote offer for %s: %w", id, err)
	}
	s.markRemoteApplied(ctx, c)

	answer, err := c.transport.CreateAnswer(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.SessionDescription{}, fmt.Errorf("create answer for %s: %w", id, err)
	}
	if err := c.transport.SetLocalDescription(ctx, answer); err != nil {
		tracing.RecordError(ctx, err)
		return domain.SessionDescription{}, fmt.Errorf("set local answer for %s: %w", id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.StateClosed {
		return domain.SessionDescription{}, fmt.Errorf("%w: %s closed during negotiation", domain.ErrInvalidState, id)
	}
	s.emitDescriptionLocked(c, answer)

	return answer, nil
}

// HandleAnswer applies the remote answer to an outstanding local offer.
func (s *ConnectionService) HandleAnswer(ctx context.Context, id domain.ConnectionID, answer domain.SessionDescription) error {
	ctx, span := tracing.TraceConnection(ctx, "handle_answer", string(id))
	defer span.End()

	if answer.Type != domain.SDPTypeAnswer {
		err := fmt.Errorf("%w: expected answer, got %q", domain.ErrInvalidState, answer.Type)
		tracing.RecordError(ctx, err)
		return err
	}

	c, err := s.beginNegotiation(id, domain.RoleInitiator, func(c *connection) error {
		if !c.haveLocalOffer {
			return fmt.Errorf("%w: %s has no outstanding offer", domain.ErrInvalidState, id)
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	defer s.endNegotiation(c)

	if err := c.transport.SetRemoteDescription(ctx, answer); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("set remote answer for %s: %w", id, err)
	}

	c.mu.Lock()
	c.haveLocalOffer = false
	c.mu.Unlock()
	s.markRemoteApplied(ctx, c)

	return nil
}

// AddICECandidate hands a remote candidate to the connection's buffer.
// Unknown or closed connections are ignored.
func (s *ConnectionService) AddICECandidate(id domain.ConnectionID, candidate domain.ICECandidate) {
	c, ok := s.lookup(id)
	if !ok {
		s.logger.Debugw("dropping candidate for unknown connection", "connection_id", id)
		return
	}
	c.candidates.Offer(candidate)
}

// Close tears the connection down. Repeated calls are no-ops.
func (s *ConnectionService) Close(id domain.ConnectionID) {
	s.mu.Lock()
	c, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	c.mu.Lock()
	if c.state == domain.StateClosed {
		c.mu.Unlock()
		return
	}
	if c.remote != nil {
		s.publishLocked(domain.Event{
			Type:         domain.EventStreamLifecycle,
			ConnectionID: c.id,
			Stream: &domain.StreamEvent{
				StreamID:  c.remote.id,
				Action:    domain.StreamReleased,
				Ownership: domain.OwnershipRemote,
			},
		})
	}
	for label, state := range c.dataChannels {
		if state != domain.DataChannelClosed {
			c.dataChannels[label] = domain.DataChannelClosed
		}
	}
	s.tracker.transitionLocked(c, domain.StateClosed, "closed by caller")
	c.mu.Unlock()

	c.candidates.Close()
	if err := c.transport.Close(); err != nil {
		s.logger.Warnw("error closing transport",
			"connection_id", id,
			"error", err,
		)
	}
}

// GetStats returns connectivity metrics, or false for unknown connections.
func (s *ConnectionService) GetStats(id domain.ConnectionID) (domain.ConnectionStats, bool) {
	c, ok := s.lookup(id)
	if !ok {
		return domain.ConnectionStats{}, false
	}
	stats := c.transport.Stats()
	stats.ConnectionID = id
	if stats.Timestamp.IsZero() {
		stats.Timestamp = time.Now()
	}
	return stats, true
}

func (s *ConnectionService) Connection(id domain.ConnectionID) (domain.PeerConnection, bool) {
	c, ok := s.lookup(id)
	if !ok {
		return domain.PeerConnection{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(), true
}

func (s *ConnectionService) Connections() []domain.PeerConnection {
	s.mu.RLock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	out := make([]domain.PeerConnection, 0, len(conns))
	for _, c := range conns {
		c.mu.Lock()
		out = append(out, c.snapshotLocked())
		c.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoteStream returns the aggregated inbound stream of a connection.
func (s *ConnectionService) RemoteStream(id domain.ConnectionID) (domain.MediaStream, bool) {
	c, ok := s.lookup(id)
	if !ok {
		return domain.MediaStream{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return domain.MediaStream{}, false
	}
	return domain.MediaStream{
		ID:        c.remote.id,
		Ownership: domain.OwnershipRemote,
		Kind:      domain.StreamKindCameraMic,
		Tracks:    append([]domain.Track(nil), c.remote.tracks...),
		CreatedAt: c.remote.createdAt,
	}, true
}

// AttachStream adds a local stream's tracks to the connection. The caller
// renegotiates afterwards.
func (s *ConnectionService) AttachStream(ctx context.Context, id domain.ConnectionID, streamID domain.StreamID) error {
	if s.tracks == nil {
		return fmt.Errorf("%w: %s", domain.ErrStreamNotFound, streamID)
	}
	tracks, ok := s.tracks.LocalTracks(streamID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrStreamNotFound, streamID)
	}

	c, err := s.mutable(id)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()

	if _, attached := c.localTracks[streamID]; attached {
		return nil
	}
	if n := s.attachLocked(c, streamID, tracks); n == 0 {
		return fmt.Errorf("attach %s to %s: no track could be added", streamID, id)
	}
	return nil
}

// DetachStream removes a local stream's tracks from the connection.
func (s *ConnectionService) DetachStream(ctx context.Context, id domain.ConnectionID, streamID domain.StreamID) error {
	c, err := s.mutable(id)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()

	s.detachLocked(c, streamID)
	return nil
}

// CreateDataChannel opens a labelled data channel; existing labels are left
// untouched.
func (s *ConnectionService) CreateDataChannel(ctx context.Context, id domain.ConnectionID, label string) error {
	if label == "" {
		return fmt.Errorf("%w: empty data channel label", domain.ErrInvalidState)
	}
	c, err := s.mutable(id)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()

	if _, ok := c.dataChannels[label]; ok {
		return nil
	}
	if err := c.transport.CreateDataChannel(label); err != nil {
		return fmt.Errorf("create data channel %q on %s: %w", label, id, err)
	}
	c.dataChannels[label] = domain.DataChannelConnecting
	return nil
}

// SendData writes to an open data channel. Sending on an unknown or closed
// connection is a no-op.
func (s *ConnectionService) SendData(id domain.ConnectionID, label string, data []byte) error {
	c, ok := s.lookup(id)
	if !ok {
		return nil
	}

	c.mu.Lock()
	if c.state == domain.StateClosed {
		c.mu.Unlock()
		return nil
	}
	state, exists := c.dataChannels[label]
	c.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %q on %s", domain.ErrDataChannelNotFound, label, id)
	}
	if state != domain.DataChannelOpen {
		return fmt.Errorf("%w: data channel %q on %s is %s", domain.ErrInvalidState, label, id, state)
	}
	return c.transport.SendData(label, data)
}

// Shutdown closes every connection.
func (s *ConnectionService) Shutdown(ctx context.Context) {
	s.mu.RLock()
	ids := make([]domain.ConnectionID, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			s.logger.Warnw("shutdown interrupted", "remaining", len(ids), "error", ctx.Err())
			return
		}
		s.Close(id)
	}
}

func (s *ConnectionService) lookup(id domain.ConnectionID) (*connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

// mutable returns the connection locked, or an error if it cannot be changed.
func (s *ConnectionService) mutable(id domain.ConnectionID) (*connection, error) {
	c, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", domain.ErrInvalidState, domain.ErrConnectionNotFound, id)
	}
	c.mu.Lock()
	if c.state == domain.StateClosed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is closed", domain.ErrInvalidState, id)
	}
	return c, nil
}

func (s *ConnectionService) beginNegotiation(id domain.ConnectionID, role domain.Role, check func(*connection) error) (*connection, error) {
	c, err := s.mutable(id)
	if err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	if c.state == domain.StateFailed {
		return nil, fmt.Errorf("%w: %s has failed", domain.ErrInvalidState, id)
	}
	if c.role != role {
		return nil, fmt.Errorf("%w: %s is %s, operation requires %s", domain.ErrInvalidState, id, c.role, role)
	}
	if c.negotiating {
		return nil, fmt.Errorf("%w: %s", domain.ErrNegotiationInProgress, id)
	}
	if check != nil {
		if err := check(c); err != nil {
			return nil, err
		}
	}
	c.negotiating = true
	// Transport state signals can arrive while the descriptions are still
	// being applied; they are only accepted once the connection left new.
	if c.state == domain.StateNew {
		s.tracker.transitionLocked(c, domain.StateNegotiating, "")
	}
	return c, nil
}

func (s *ConnectionService) endNegotiation(c *connection) {
	c.mu.Lock()
	c.negotiating = false
	c.mu.Unlock()
}

func (s *ConnectionService) markRemoteApplied(ctx context.Context, c *connection) {
	c.mu.Lock()
	c.remoteDescSet = true
	c.mu.Unlock()

	n := c.candidates.Flush()
	tracing.AddSpanAttributes(ctx, attribute.Int("webrtc.candidates_flushed", n))
	if n > 0 {
		s.logger.Infow("applied buffered candidates",
			"connection_id", c.id,
			"count", n,
		)
	}
}

// emitDescriptionLocked publishes a local description and then any local
// candidates gathered before it, so the remote side never sees a candidate
// ahead of the description it belongs to.
func (s *ConnectionService) emitDescriptionLocked(c *connection, desc domain.SessionDescription) {
	d := desc
	s.publishLocked(domain.Event{
		Type:         domain.EventLocalDescription,
		ConnectionID: c.id,
		Description:  &d,
	})

	c.descriptionSent = true
	outgoing := c.outgoing
	c.outgoing = nil
	for i := range outgoing {
		s.publishCandidateLocked(c, outgoing[i])
	}
}

func (s *ConnectionService) publishCandidateLocked(c *connection, candidate domain.ICECandidate) {
	cand := candidate
	s.publishLocked(domain.Event{
		Type:         domain.EventCandidateGenerated,
		ConnectionID: c.id,
		Candidate:    &cand,
	})
}

func (s *ConnectionService) publishLocked(event domain.Event) {
	if s.bus != nil {
		s.bus.Publish(event)
	}
}

func (s *ConnectionService) attachLocked(c *connection, streamID domain.StreamID, tracks []ports.LocalTrack) int {
	added := make([]domain.TrackID, 0, len(tracks))
	for _, track := range tracks {
		if err := c.transport.AddTrack(track); err != nil {
			s.logger.Warnw("failed to attach local track",
				"connection_id", c.id,
				"stream_id", streamID,
				"track_id", track.ID(),
				"error", err,
			)
			continue
		}
		added = append(added, track.ID())
	}
	if len(added) == 0 {
		return 0
	}
	c.localTracks[streamID] = added
	c.localStreams = append(c.localStreams, streamID)
	return len(added)
}

func (s *ConnectionService) detachLocked(c *connection, streamID domain.StreamID) {
	trackIDs, ok := c.localTracks[streamID]
	if !ok {
		return
	}
	for _, trackID := range trackIDs {
		if err := c.transport.RemoveTrack(trackID); err != nil {
			s.logger.Warnw("failed to detach local track",
				"connection_id", c.id,
				"stream_id", streamID,
				"track_id", trackID,
				"error", err,
			)
		}
	}
	delete(c.localTracks, streamID)
	for i, id := range c.localStreams {
		if id == streamID {
			c.localStreams = append(c.localStreams[:i], c.localStreams[i+1:]...)
			break
		}
	}
}

// detachEverywhere removes a released local stream from every connection,
// one connection at a time.
func (s *ConnectionService) detachEverywhere(streamID domain.StreamID) {
	s.mu.RLock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.mu.Lock()
		if c.state != domain.StateClosed {
			s.detachLocked(c, streamID)
		}
		c.mu.Unlock()
	}
}

func (s *ConnectionService) handlersFor(c *connection) ports.TransportHandlers {
	return ports.TransportHandlers{
		OnICECandidate: func(candidate domain.ICECandidate) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.state == domain.StateClosed {
				return
			}
			if !c.descriptionSent {
				c.outgoing = append(c.outgoing, candidate)
				return
			}
			s.publishCandidateLocked(c, candidate)
		},
		OnICEConnectionStateChange: func(state domain.ICEConnectionState) {
			s.tracker.Observe(c, state)
		},
		OnConnectionStateChange: func(state domain.ICEConnectionState) {
			s.tracker.Observe(c, state)
		},
		OnTrack: func(track ports.RemoteTrack) {
			s.onRemoteTrack(c, track)
		},
		OnDataChannelState: func(label string, state domain.DataChannelState) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.state == domain.StateClosed || c.dataChannels[label] == state {
				return
			}
			c.dataChannels[label] = state
			s.publishLocked(domain.Event{
				Type:         domain.EventDataChannelState,
				ConnectionID: c.id,
				DataChannel:  &domain.DataChannelEvent{Label: label, State: state},
			})
		},
		OnDataChannelMessage: func(label string, data []byte, isString bool) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.state == domain.StateClosed {
				return
			}
			s.publishLocked(domain.Event{
				Type:         domain.EventDataChannelMessage,
				ConnectionID: c.id,
				DataChannel: &domain.DataChannelEvent{
					Label:    label,
					Data:     append([]byte(nil), data...),
					IsString: isString,
				},
			})
		},
	}
}

// onRemoteTrack folds inbound tracks into a single remote stream: the first
// announced stream id wins and later tracks merge into it.
func (s *ConnectionService) onRemoteTrack(c *connection, rt ports.RemoteTrack) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == domain.StateClosed {
		return
	}

	track := domain.Track{ID: rt.ID, Kind: rt.Kind, Enabled: true}

	if c.remote == nil {
		streamID := rt.StreamID
		if streamID == "" {
			streamID = domain.StreamID(string(c.id) + "-remote")
		}
		c.remote = &remoteStream{
			id:        streamID,
			tracks:    []domain.Track{track},
			createdAt: time.Now(),
		}
		s.publishLocked(domain.Event{
			Type:         domain.EventStreamLifecycle,
			ConnectionID: c.id,
			Stream: &domain.StreamEvent{
				StreamID:  streamID,
				Action:    domain.StreamAcquired,
				Ownership: domain.OwnershipRemote,
				TrackKind: rt.Kind,
			},
		})
		s.publishLocked(domain.Event{
			Type:         domain.EventRemoteStreamAvailable,
			ConnectionID: c.id,
			Stream: &domain.StreamEvent{
				StreamID:  streamID,
				Action:    domain.StreamAcquired,
				Ownership: domain.OwnershipRemote,
				TrackKind: rt.Kind,
			},
		})
		s.logger.Infow("remote stream available",
			"connection_id", c.id,
			"stream_id", streamID,
			"track_kind", rt.Kind,
		)
		return
	}

	for _, existing := range c.remote.tracks {
		if existing.ID == rt.ID {
			return
		}
	}
	c.remote.tracks = append(c.remote.tracks, track)
	s.publishLocked(domain.Event{
		Type:         domain.EventStreamLifecycle,
		ConnectionID: c.id,
		Stream: &domain.StreamEvent{
			StreamID:  c.remote.id,
			Action:    domain.StreamTrackAdded,
			Ownership: domain.OwnershipRemote,
			TrackKind: rt.Kind,
		},
	})
}

func (c *connection) snapshotLocked() domain.PeerConnection {
	snap := domain.PeerConnection{
		ID:                   c.id,
		Role:                 c.role,
		State:                c.state,
		LocalStreamIDs:       append([]domain.StreamID{}, c.localStreams...),
		RemoteDescriptionSet: c.remoteDescSet,
		CreatedAt:            c.createdAt,
		ConnectedAt:          c.connectedAt,
	}
	if c.remote != nil {
		snap.RemoteStreamID = c.remote.id
	}
	if c.candidates != nil {
		snap.PendingCandidates = c.candidates.Pending()
		snap.CandidatesApplied, snap.CandidatesFailed = c.candidates.Counts()
	}
	if len(c.dataChannels) > 0 {
		snap.DataChannels = make(map[string]domain.DataChannelState, len(c.dataChannels))
		for label, state := range c.dataChannels {
			snap.DataChannels[label] = state
		}
	}
	return snap
}
