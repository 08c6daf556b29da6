package webrtc

import (
	"context"
	"testing"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestToICEServers(t *testing.T) {
	servers := toICEServers([]domain.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "user", Credential: "secret"},
	})

	require.Len(t, servers, 2)
	assert.Empty(t, servers[0].Username)
	assert.Nil(t, servers[0].Credential)
	assert.Equal(t, "user", servers[1].Username)
	assert.Equal(t, "secret", servers[1].Credential)
	assert.Equal(t, webrtc.ICECredentialTypePassword, servers[1].CredentialType)
}

func TestSessionDescriptionConversion(t *testing.T) {
	desc := domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "v=0"}
	native := toSessionDescription(desc)

	assert.Equal(t, webrtc.SDPTypeAnswer, native.Type)
	assert.Equal(t, desc, fromSessionDescription(native))
}

func TestFactory_OfferWithDataChannel(t *testing.T) {
	factory, err := NewFactory(Config{}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	tr, err := factory.NewTransport(context.Background(), "loopback", domain.ConnectionConfig{}, ports.TransportHandlers{})
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.CreateDataChannel("chat"))

	offer, err := tr.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=application")

	assert.ErrorIs(t, tr.SendData("missing", []byte("x")), domain.ErrDataChannelNotFound)
	assert.Error(t, tr.RemoveTrack("never-added"))
}

type plainTrack struct{}

func (plainTrack) ID() domain.TrackID     { return "plain" }
func (plainTrack) Kind() domain.TrackKind { return domain.TrackKindAudio }
func (plainTrack) Enabled() bool          { return true }
func (plainTrack) SetEnabled(bool)        {}
func (plainTrack) Stop()                  {}

func TestTransport_RejectsNonRTPTracks(t *testing.T) {
	factory, err := NewFactory(Config{}, nil)
	require.NoError(t, err)

	tr, err := factory.NewTransport(context.Background(), "c", domain.ConnectionConfig{}, ports.TransportHandlers{})
	require.NoError(t, err)
	defer tr.Close()

	assert.ErrorIs(t, tr.AddTrack(plainTrack{}), ErrUnsupportedTrack)
}
