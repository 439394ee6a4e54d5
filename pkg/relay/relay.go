package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/solser12/kurento/pkg/config"
	"github.com/solser12/kurento/pkg/logger"
	"github.com/solser12/kurento/pkg/media"
	"github.com/solser12/kurento/pkg/media/kurento"
	"github.com/solser12/kurento/pkg/media/pion"
	"github.com/solser12/kurento/pkg/network/httpx"
	"github.com/solser12/kurento/pkg/service"
)

// Relay is the one-to-many broadcast signaling service.
type Relay struct {
	service.RunnableService

	conf   config.RelayConfig
	log    *logger.Logger
	server *httpx.Server
	kms    *kurento.Client
}

func New(conf config.RelayConfig, log *logger.Logger) (*Relay, error) {
	lg := log.Extend(log.With().Str("c", "relay"))
	relay := &Relay{conf: conf, log: lg}

	var svc media.Service
	switch conf.Media.Engine {
	case "kurento":
		kms, err := kurento.NewClient(
			conf.Media.Kurento.Address,
			time.Duration(conf.Media.Kurento.CallTimeout)*time.Second,
			lg,
		)
		if err != nil {
			return nil, fmt.Errorf("kurento connect: %w", err)
		}
		relay.kms = kms
		svc = kms
	case "pion", "":
		engine, err := pion.NewEngine(conf.Media.Webrtc, lg)
		if err != nil {
			return nil, fmt.Errorf("webrtc init: %w", err)
		}
		svc = engine
	default:
		return nil, fmt.Errorf("unknown media engine: %v", conf.Media.Engine)
	}

	hub := NewHub(svc, lg)
	srv := conf.Relay.Server
	opts := []httpx.Option{
		httpx.WithLogger(lg),
		httpx.WithPortRoll(srv.PortRoll),
	}
	if srv.Https {
		opts = append(opts, httpx.WithTLS(srv.Tls.HttpsCert, srv.Tls.HttpsKey, srv.Tls.Domain))
	}
	server, err := httpx.NewServer(srv.Address, func(s *httpx.Server) http.Handler {
		h := http.NewServeMux()
		h.HandleFunc("/call", hub.handleClientConnection)
		return h
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("server init: %w", err)
	}
	relay.server = server
	return relay, nil
}

func (r *Relay) Run() {
	r.log.Info().Msgf("relay is starting on %v", r.server.Addr)
	r.server.Run()
}

func (r *Relay) Shutdown(ctx context.Context) error {
	err := r.server.Stop(ctx)
	if r.kms != nil {
		r.kms.Close()
	}
	return err
}

func (r *Relay) String() string { return fmt.Sprintf("relay::%v", r.server.Addr) }
