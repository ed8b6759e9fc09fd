// Package rtc backs peer links with pion PeerConnections.
package rtc

import (
	"github.com/dkeye/meshvoice/internal/client/peer"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Factory struct {
	api  *webrtc.API
	conf webrtc.Configuration
}

// NewFactory builds one API shared by every connection. A nil
// LoggerFactory keeps pion's default logging.
func NewFactory(iceServers []string, lf logging.LoggerFactory) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}
	s := webrtc.SettingEngine{}
	if lf != nil {
		s.LoggerFactory = lf
	}

	c := webrtc.Configuration{}
	for _, url := range iceServers {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}
	log.Debug().Str("module", "rtc").Strs("ice_servers", iceServers).Msg("api ready")

	return &Factory{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		conf: c,
	}, nil
}

func (f *Factory) NewConnection(remoteID string) (*Connection, error) {
	pc, err := f.api.NewPeerConnection(f.conf)
	if err != nil {
		return nil, err
	}
	return &Connection{pc: pc, remoteID: remoteID}, nil
}

// ConnFactory adapts the factory to the peer manager.
func (f *Factory) ConnFactory() peer.ConnFactory {
	return func(remoteID string) (peer.Conn, error) {
		c, err := f.NewConnection(remoteID)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
