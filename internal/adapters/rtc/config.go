package rtc

import (
	"time"

	"github.com/dkeye/Consult/internal/config"
	"github.com/dkeye/Consult/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	ICEServers []webrtc.ICEServer

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	IncludeLoopback bool
	UDP4Only        bool
}

func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       25 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

func ConfigFrom(c config.CallConfig) Config {
	out := DefaultConfig()
	if len(c.ICEServers) > 0 {
		out.ICEServers = out.ICEServers[:0]
		for _, s := range c.ICEServers {
			out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
	}
	if c.ICE.DisconnectedTimeout > 0 {
		out.DisconnectedTimeout = c.ICE.DisconnectedTimeout
	}
	if c.ICE.FailedTimeout > 0 {
		out.FailedTimeout = c.ICE.FailedTimeout
	}
	if c.ICE.KeepAliveInterval > 0 {
		out.KeepAliveInterval = c.ICE.KeepAliveInterval
	}
	out.IncludeLoopback = c.ICE.IncludeLoopback
	out.UDP4Only = c.ICE.UDP4Only
	return out
}

// newAPI builds the pion API for one connection. Media that encodes its own
// tracks decides the codecs; anything else gets the default set.
func (c Config) newAPI(m core.LocalMedia) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if p, ok := m.(core.CodecPopulator); ok {
		if err := p.PopulateMediaEngine(mediaEngine); err != nil {
			return nil, err
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(c.DisconnectedTimeout, c.FailedTimeout, c.KeepAliveInterval)
	se.SetIncludeLoopbackCandidate(c.IncludeLoopback)
	if c.UDP4Only {
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

func (c Config) configuration() webrtc.Configuration {
	return webrtc.Configuration{ICEServers: c.ICEServers}
}

// NewFactory returns an EngineFactory for sessions of the given role.
func NewFactory(cfg Config, tag string) core.EngineFactory {
	return func(m core.LocalMedia) (core.PeerEngine, error) {
		return NewEngine(cfg, m, tag)
	}
}
