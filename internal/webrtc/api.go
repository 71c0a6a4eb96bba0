package webrtc

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/orico2007/WebRtcSecuredVideoChatSite/internal/logging"
	"github.com/pion/interceptor"
	"github.com/pion/transport/v3"
	pion "github.com/pion/webrtc/v4"
)

// FactoryOptions configure the pion API shared by all peer connections of a session.
type FactoryOptions struct {
	ICEServers []pion.ICEServer
	Policy     pion.ICETransportPolicy

	// Net replaces the host network stack, e.g. with a vnet in tests.
	Net transport.Net

	// IncludeLoopback gathers loopback candidates (single-host setups).
	IncludeLoopback bool

	Logger *slog.Logger
}

// Factory builds peer connections that share codecs, interceptors and ICE settings.
type Factory struct {
	api    *pion.API
	config pion.Configuration
}

// NewFactory prepares the pion API.
func NewFactory(opts FactoryOptions) (*Factory, error) {
	se := pion.SettingEngine{}
	se.LoggerFactory = logging.NewPionFactory(opts.Logger)
	se.SetICETimeouts(10*time.Second, 25*time.Second, 2*time.Second)
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	mediaEngine := &pion.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return &Factory{
		api: pion.NewAPI(
			pion.WithSettingEngine(se),
			pion.WithMediaEngine(mediaEngine),
			pion.WithInterceptorRegistry(registry),
		),
		config: pion.Configuration{
			ICEServers:         opts.ICEServers,
			ICETransportPolicy: opts.Policy,
		},
	}, nil
}

// NewPeerConnection creates a connection using the shared configuration.
func (f *Factory) NewPeerConnection() (*pion.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}

// Policy returns the ICE transport policy in effect.
func (f *Factory) Policy() pion.ICETransportPolicy { return f.config.ICETransportPolicy }
