package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMediaFixture(t *testing.T) (*MediaService, *MockCapturer, *EventBus, *eventRecorder) {
	t.Helper()
	bus := NewEventBus(zaptest.NewLogger(t).Sugar())
	rec := recordEvents(bus, ports.EventFilter{Types: []domain.EventType{domain.EventStreamLifecycle}})
	capturer := new(MockCapturer)
	svc := NewMediaService(capturer, bus, zaptest.NewLogger(t).Sugar())
	return svc, capturer, bus, rec
}

func TestMediaService_AcquireIsGetOrCreate(t *testing.T) {
	svc, capturer, bus, rec := newMediaFixture(t)
	ctx := context.Background()

	captured := newFakeCaptured("local", domain.TrackKindAudio, domain.TrackKindVideo)
	capturer.On("Capture", mock.Anything, domain.StreamID("local"), domain.MediaConstraints{
		Kind: domain.StreamKindCameraMic, Audio: true, Video: true,
	}).Return(captured, nil).Once()

	first, err := svc.Acquire(ctx, "local", domain.MediaConstraints{})
	require.NoError(t, err)
	second, err := svc.Acquire(ctx, "local", domain.MediaConstraints{Kind: domain.StreamKindScreenShare})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.OwnershipLocal, first.Ownership)
	assert.Equal(t, domain.StreamKindCameraMic, second.Kind)
	assert.Len(t, first.Tracks, 2)
	capturer.AssertExpectations(t)

	bus.Close()
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.StreamAcquired, events[0].Stream.Action)
}

func TestMediaService_ConcurrentAcquireSharesCapture(t *testing.T) {
	svc, capturer, bus, _ := newMediaFixture(t)
	defer bus.Close()

	entered := make(chan struct{})
	gate := make(chan struct{})
	capturer.On("Capture", mock.Anything, domain.StreamID("local"), mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-gate
		}).
		Return(newFakeCaptured("local", domain.TrackKindAudio), nil).Once()

	var wg sync.WaitGroup
	results := make([]domain.MediaStream, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = svc.Acquire(context.Background(), "local", domain.MediaConstraints{Audio: true})
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = svc.Acquire(context.Background(), "local", domain.MediaConstraints{Audio: true})
	}()

	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ID, results[1].ID)
	capturer.AssertNumberOfCalls(t, "Capture", 1)
}

func TestMediaService_AcquireFailure(t *testing.T) {
	svc, capturer, bus, rec := newMediaFixture(t)

	capturer.On("Capture", mock.Anything, domain.StreamID("denied"), mock.Anything).
		Return(nil, errors.New("permission denied")).Once()
	capturer.On("Capture", mock.Anything, domain.StreamID("empty"), mock.Anything).
		Return(newFakeCaptured("empty"), nil).Once()

	_, err := svc.Acquire(context.Background(), "denied", domain.MediaConstraints{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMediaAcquisition)
	assert.Contains(t, err.Error(), "permission denied")

	_, err = svc.Acquire(context.Background(), "empty", domain.MediaConstraints{})
	assert.ErrorIs(t, err, domain.ErrMediaAcquisition)

	_, ok := svc.Stream("denied")
	assert.False(t, ok)
	assert.Empty(t, svc.Streams())

	bus.Close()
	assert.Empty(t, rec.all())
}

func TestMediaService_AcquireCancelledWhileWaiting(t *testing.T) {
	svc, capturer, bus, _ := newMediaFixture(t)
	defer bus.Close()

	entered := make(chan struct{})
	gate := make(chan struct{})
	capturer.On("Capture", mock.Anything, domain.StreamID("local"), mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-gate
		}).
		Return(newFakeCaptured("local", domain.TrackKindAudio), nil).Once()

	go func() {
		_, _ = svc.Acquire(context.Background(), "local", domain.MediaConstraints{})
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Acquire(ctx, "local", domain.MediaConstraints{})
	assert.ErrorIs(t, err, domain.ErrMediaAcquisition)
	assert.ErrorIs(t, err, context.Canceled)

	close(gate)
	require.Eventually(t, func() bool {
		_, ok := svc.Stream("local")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestMediaService_SetTrackEnabled(t *testing.T) {
	svc, capturer, bus, rec := newMediaFixture(t)

	captured := newFakeCaptured("local", domain.TrackKindAudio, domain.TrackKindVideo)
	capturer.On("Capture", mock.Anything, domain.StreamID("local"), mock.Anything).Return(captured, nil).Once()
	_, err := svc.Acquire(context.Background(), "local", domain.MediaConstraints{})
	require.NoError(t, err)

	svc.SetTrackEnabled("local", domain.TrackKindAudio, false)
	svc.SetTrackEnabled("local", domain.TrackKindAudio, false)
	svc.SetTrackEnabled("missing", domain.TrackKindAudio, false)

	stream, ok := svc.Stream("local")
	require.True(t, ok)
	for _, track := range stream.Tracks {
		if track.Kind == domain.TrackKindAudio {
			assert.False(t, track.Enabled)
		} else {
			assert.True(t, track.Enabled)
		}
	}

	svc.SetTrackEnabled("local", domain.TrackKindAudio, true)

	bus.Close()
	var actions []domain.StreamAction
	for _, e := range rec.all() {
		actions = append(actions, e.Stream.Action)
	}
	assert.Equal(t, []domain.StreamAction{domain.StreamAcquired, domain.StreamMuted, domain.StreamUnmuted}, actions)
}

func TestMediaService_ReleaseIsIdempotent(t *testing.T) {
	svc, capturer, bus, rec := newMediaFixture(t)

	captured := newFakeCaptured("local", domain.TrackKindAudio)
	capturer.On("Capture", mock.Anything, domain.StreamID("local"), mock.Anything).Return(captured, nil).Once()
	_, err := svc.Acquire(context.Background(), "local", domain.MediaConstraints{})
	require.NoError(t, err)

	svc.Release("local")
	svc.Release("local")
	svc.Release("never-acquired")

	assert.Equal(t, 1, captured.stopCount())
	_, ok := svc.LocalTracks("local")
	assert.False(t, ok)

	bus.Close()
	released := 0
	for _, e := range rec.all() {
		if e.Stream.Action == domain.StreamReleased {
			released++
		}
	}
	assert.Equal(t, 1, released)
}

func TestMediaService_ReleaseAll(t *testing.T) {
	svc, capturer, bus, _ := newMediaFixture(t)
	defer bus.Close()

	a := newFakeCaptured("a", domain.TrackKindAudio)
	b := newFakeCaptured("b", domain.TrackKindVideo)
	capturer.On("Capture", mock.Anything, domain.StreamID("a"), mock.Anything).Return(a, nil).Once()
	capturer.On("Capture", mock.Anything, domain.StreamID("b"), mock.Anything).Return(b, nil).Once()

	_, err := svc.Acquire(context.Background(), "a", domain.MediaConstraints{})
	require.NoError(t, err)
	_, err = svc.Acquire(context.Background(), "b", domain.MediaConstraints{Kind: domain.StreamKindScreenShare})
	require.NoError(t, err)

	streams := svc.Streams()
	require.Len(t, streams, 2)
	assert.Equal(t, domain.StreamID("a"), streams[0].ID)

	svc.ReleaseAll()
	assert.Empty(t, svc.Streams())
	assert.Equal(t, 1, a.stopCount())
	assert.Equal(t, 1, b.stopCount())
}
