package rtc

import (
	"fmt"
	"time"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/core"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ICEServers []string
	// Codecs registers the codecs local tracks are encoded with. Nil means
	// pion's default codec set.
	Codecs func(*webrtc.MediaEngine) error

	// ICE timeouts; zero values take the defaults below. Generous values let
	// a short relay or NAT hiccup recover without dropping the link.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

// Factory builds one WebRTCConnection per peer link from a shared API.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

var _ core.MediaConnectionFactory = (*Factory)(nil)

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

func NewFactory(opts Options) (*Factory, error) {
	me := &webrtc.MediaEngine{}
	register := opts.Codecs
	if register == nil {
		register = (*webrtc.MediaEngine).RegisterDefaultCodecs
	}
	if err := register(me); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(
		orDefault(opts.DisconnectedTimeout, 30*time.Second),
		orDefault(opts.FailedTimeout, 60*time.Second),
		orDefault(opts.KeepAliveInterval, 2*time.Second),
	)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	log.Info().Str("module", "webrtc").Strs("ice_servers", opts.ICEServers).Msg("factory ready")
	return &Factory{api: api, cfg: DefaultWebRTCConfig(opts.ICEServers)}, nil
}

func (f *Factory) NewConnection(sid domain.SessionID, peer domain.ParticipantID) (core.MediaConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newConnection(pc, sid, peer), nil
}

func orDefault(v, d time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return d
}
