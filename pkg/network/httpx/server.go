package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/solser12/kurento/pkg/logger"
	"golang.org/x/crypto/acme/autocert"
)

type Server struct {
	http.Server

	autoCert *autocert.Manager
	opts     Options

	listener *Listener
	log      *logger.Logger
}

func NewServer(address string, handler func(*Server) http.Handler, options ...Option) (*Server, error) {
	opts := &Options{
		Https:        false,
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	opts.override(options...)
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	server := &Server{
		Server: http.Server{
			Addr:         address,
			IdleTimeout:  opts.IdleTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		opts: *opts,
		log:  opts.Logger,
	}
	server.Handler = handler(server)

	if opts.Https && opts.IsAutoHttpsCert() {
		server.autoCert = NewTLSConfig(opts.HttpsDomain).CertManager
		server.TLSConfig = server.autoCert.TLSConfig()
	}

	listener, err := NewListener(server.Addr, server.opts.PortRoll, opts.Logger)
	if err != nil {
		return nil, err
	}
	server.listener = listener
	server.Addr = mergeAddresses(server.Addr, *listener)
	opts.Logger.Info().Msgf("httpx %v", server.Addr)

	return server, nil
}

func (s *Server) Run() { go s.run() }

func (s *Server) run() {
	protocol := s.GetProtocol()
	s.log.Debug().Msgf("starting %s server on %s", protocol, s.Addr)

	var err error
	if s.opts.Https {
		err = s.ServeTLS(*s.listener, s.opts.HttpsCert, s.opts.HttpsKey)
	} else {
		err = s.Serve(*s.listener)
	}
	if err != nil && err != http.ErrServerClosed {
		s.log.Error().Err(err).Msgf("%s server fail", protocol)
	}
}

func (s *Server) Stop(ctx context.Context) error { return s.Shutdown(ctx) }

func (s *Server) GetProtocol() string {
	if s.opts.Https {
		return "https"
	}
	return "http"
}
