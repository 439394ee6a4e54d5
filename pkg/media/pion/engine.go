// Package pion is an in-process negotiation engine built on pion/webrtc.
// It lets the relay run without an external media server: every endpoint
// is a local peer connection, and pipelines forward the presenter's RTP
// to the viewers.
package pion

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/solser12/kurento/pkg/config"
	"github.com/solser12/kurento/pkg/logger"
	"github.com/solser12/kurento/pkg/media"
)

type Engine struct {
	api  *webrtc.API
	conf webrtc.Configuration
	log  *logger.Logger
}

func NewEngine(conf config.Webrtc, log *logger.Logger) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if !conf.DisableDefaultInterceptors {
		if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			return nil, err
		}
	}

	settings := webrtc.SettingEngine{LoggerFactory: logger.NewPionLogger(log, conf.LogLevel)}
	if conf.HasPortRange() {
		if err := settings.SetEphemeralUDPPortRange(conf.IcePorts.Min, conf.IcePorts.Max); err != nil {
			return nil, err
		}
	}
	if conf.HasIceIpMap() {
		settings.SetNAT1To1IPs([]string{conf.IceIpMap}, webrtc.ICECandidateTypeHost)
		log.Info().Msgf("the NAT mapping is active for %v", conf.IceIpMap)
	}

	peerConf := webrtc.Configuration{}
	for _, server := range conf.IceServers {
		peerConf.ICEServers = append(peerConf.ICEServers, webrtc.ICEServer{
			URLs:       []string{server.Urls},
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	return &Engine{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(settings)),
		conf: peerConf,
		log:  log,
	}, nil
}

func (e *Engine) CreatePipeline(_ context.Context) (media.Pipeline, error) {
	return newPipeline(e), nil
}
