package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errNoRemoteDescription = errors.New("remote description not set")

// fakeTransport behaves like a native peer connection as far as ordering
// is concerned: candidates are rejected until a remote description exists.
type fakeTransport struct {
	id       domain.ConnectionID
	handlers ports.TransportHandlers

	mu          sync.Mutex
	remoteSet   bool
	local       []domain.SessionDescription
	remote      []domain.SessionDescription
	applied     []domain.ICECandidate
	tracks      []domain.TrackID
	channels    map[string]bool
	sent        map[string][][]byte
	closeCalls  int
	addTrackErr error
	stats       domain.ConnectionStats

	// offerGate, when set, blocks CreateOffer until closed.
	offerGate    chan struct{}
	offerEntered chan struct{}
	// onSetLocal, when set, runs after a local description is stored.
	onSetLocal func(domain.SessionDescription)
}

func newFakeTransport(id domain.ConnectionID, handlers ports.TransportHandlers) *fakeTransport {
	return &fakeTransport{
		id:       id,
		handlers: handlers,
		channels: make(map[string]bool),
		sent:     make(map[string][][]byte),
	}
}

func (f *fakeTransport) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	f.mu.Lock()
	gate, entered := f.offerGate, f.offerEntered
	f.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s", f.id)}, nil
}

func (f *fakeTransport) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%s", f.id)}, nil
}

func (f *fakeTransport) SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error {
	f.mu.Lock()
	f.local = append(f.local, desc)
	hook := f.onSetLocal
	f.mu.Unlock()
	if hook != nil {
		hook(desc)
	}
	return nil
}

func (f *fakeTransport) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, desc)
	f.remoteSet = true
	return nil
}

func (f *fakeTransport) AddICECandidate(candidate domain.ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.remoteSet {
		return errNoRemoteDescription
	}
	f.applied = append(f.applied, candidate)
	return nil
}

func (f *fakeTransport) AddTrack(track ports.LocalTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addTrackErr != nil {
		return f.addTrackErr
	}
	f.tracks = append(f.tracks, track.ID())
	return nil
}

func (f *fakeTransport) RemoveTrack(trackID domain.TrackID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range f.tracks {
		if id == trackID {
			f.tracks = append(f.tracks[:i], f.tracks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("track %s not attached", trackID)
}

func (f *fakeTransport) CreateDataChannel(label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[label] = true
	return nil
}

func (f *fakeTransport) SendData(label string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[label] = append(f.sent[label], append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Stats() domain.ConnectionStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeTransport) appliedCandidates() []domain.ICECandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ICECandidate(nil), f.applied...)
}

func (f *fakeTransport) attachedTracks() []domain.TrackID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TrackID(nil), f.tracks...)
}

func (f *fakeTransport) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeTransportFactory struct {
	mu         sync.Mutex
	transports map[domain.ConnectionID]*fakeTransport
	configs    []domain.ConnectionConfig
	err        error
}

func newFakeTransportFactory() *fakeTransportFactory {
	return &fakeTransportFactory{transports: make(map[domain.ConnectionID]*fakeTransport)}
}

func (f *fakeTransportFactory) NewTransport(ctx context.Context, id domain.ConnectionID, cfg domain.ConnectionConfig, handlers ports.TransportHandlers) (ports.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := newFakeTransport(id, handlers)
	f.transports[id] = t
	f.configs = append(f.configs, cfg)
	return t, nil
}

func (f *fakeTransportFactory) get(t *testing.T, id domain.ConnectionID) *fakeTransport {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.transports[id]
	require.True(t, ok, "no transport for %s", id)
	return tr
}

type fakeTrack struct {
	id   domain.TrackID
	kind domain.TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *fakeTrack) ID() domain.TrackID     { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

type fakeCaptured struct {
	tracks []ports.LocalTrack

	mu    sync.Mutex
	stops int
}

func newFakeCaptured(streamID domain.StreamID, kinds ...domain.TrackKind) *fakeCaptured {
	c := &fakeCaptured{}
	for _, kind := range kinds {
		c.tracks = append(c.tracks, &fakeTrack{
			id:      domain.TrackID(fmt.Sprintf("%s-%s", streamID, kind)),
			kind:    kind,
			enabled: true,
		})
	}
	return c
}

func (c *fakeCaptured) Tracks() []ports.LocalTrack { return c.tracks }

func (c *fakeCaptured) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	for _, t := range c.tracks {
		t.Stop()
	}
}

func (c *fakeCaptured) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

type MockCapturer struct {
	mock.Mock
}

func (m *MockCapturer) Capture(ctx context.Context, streamID domain.StreamID, constraints domain.MediaConstraints) (ports.CapturedStream, error) {
	args := m.Called(ctx, streamID, constraints)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.CapturedStream), args.Error(1)
}

// eventRecorder collects every event published on a bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func recordEvents(bus *EventBus, filter ports.EventFilter) *eventRecorder {
	r := &eventRecorder{}
	bus.Subscribe("recorder", filter, func(e domain.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
	return r
}

func (r *eventRecorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *eventRecorder) ofType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range r.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) states(id domain.ConnectionID) []domain.ConnectionState {
	var out []domain.ConnectionState
	for _, e := range r.ofType(domain.EventConnectionStateChanged) {
		if e.ConnectionID == id {
			out = append(out, e.State.To)
		}
	}
	return out
}

func (r *eventRecorder) waitFor(t *testing.T, n int, match func(domain.Event) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		count := 0
		for _, e := range r.all() {
			if match(e) {
				count++
			}
		}
		return count >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func candidate(n int) domain.ICECandidate {
	return domain.ICECandidate{Candidate: fmt.Sprintf("candidate:%d 1 udp 2122260223 10.0.0.%d 5000%d typ host", n, n, n)}
}
