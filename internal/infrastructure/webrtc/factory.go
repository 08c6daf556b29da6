package webrtc

import (
	"context"
	"fmt"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config holds the host-level transport settings shared by every connection.
type Config struct {
	PortRange struct {
		Min uint16
		Max uint16
	}
	NAT1To1IPs []string
	// StatsInterval is how often each transport refreshes its bitrates.
	StatsInterval time.Duration
}

const defaultStatsInterval = time.Second

// Factory builds pion-backed transports from a single shared API instance.
type Factory struct {
	api           *webrtc.API
	statsInterval time.Duration
	logger        *zap.SugaredLogger
}

var _ ports.TransportFactory = (*Factory)(nil)

func NewFactory(cfg Config, logger *zap.SugaredLogger) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	// NACK, RTCP reports and TWCC; the receiver reports feed Stats.
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range %d-%d: %w", cfg.PortRange.Min, cfg.PortRange.Max, err)
		}
	}
	if len(cfg.NAT1To1IPs) > 0 {
		settingEngine.SetNAT1To1IPs(cfg.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)
	interval := cfg.StatsInterval
	if interval <= 0 {
		interval = defaultStatsInterval
	}
	return &Factory{api: api, statsInterval: interval, logger: logger}, nil
}

// NewTransport creates the native peer connection and wires its callbacks to
// handlers before any negotiation can start.
func (f *Factory) NewTransport(ctx context.Context, id domain.ConnectionID, cfg domain.ConnectionConfig, handlers ports.TransportHandlers) (ports.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   toICEServers(cfg.ICEServers),
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := newTransport(id, pc, handlers, f.logger.With("connection_id", id))
	t.wire()
	go t.sampleLoop(f.statsInterval)
	return t, nil
}

func toICEServers(servers []domain.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: append([]string(nil), s.URLs...)}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, server)
	}
	return out
}
