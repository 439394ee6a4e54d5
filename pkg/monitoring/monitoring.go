package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/solser12/kurento/pkg/config"
	"github.com/solser12/kurento/pkg/logger"
	"github.com/solser12/kurento/pkg/network/httpx"
	"github.com/solser12/kurento/pkg/service"
)

type Monitoring struct {
	service.RunnableService

	conf   config.Monitoring
	log    *logger.Logger
	server *httpx.Server
}

// New creates a new monitoring service.
// The tag param specifies an owner label for logs.
func New(conf config.Monitoring, tag string, log *logger.Logger) *Monitoring {
	lg := log.Extend(log.With().Str("c", tag))
	serv, err := httpx.NewServer(
		fmt.Sprintf(":%d", conf.Port),
		func(serv *httpx.Server) http.Handler {
			h := http.NewServeMux()

			if conf.ProfilingEnabled {
				prefix := conf.URLPrefix + "/debug/pprof"
				lg.Info().Msgf("profiling is enabled at %v", serv.Addr+prefix)
				h.HandleFunc(prefix+"/", pprof.Index)
				h.HandleFunc(prefix+"/cmdline", pprof.Cmdline)
				h.HandleFunc(prefix+"/profile", pprof.Profile)
				h.HandleFunc(prefix+"/symbol", pprof.Symbol)
				h.HandleFunc(prefix+"/trace", pprof.Trace)
				h.Handle(prefix+"/allocs", pprof.Handler("allocs"))
				h.Handle(prefix+"/block", pprof.Handler("block"))
				h.Handle(prefix+"/goroutine", pprof.Handler("goroutine"))
				h.Handle(prefix+"/heap", pprof.Handler("heap"))
				h.Handle(prefix+"/mutex", pprof.Handler("mutex"))
				h.Handle(prefix+"/threadcreate", pprof.Handler("threadcreate"))
			}

			if conf.MetricEnabled {
				metricPath := conf.URLPrefix + "/metrics"
				lg.Info().Msgf("prometheus metrics are enabled at %v", serv.Addr+metricPath)
				h.Handle(metricPath, promhttp.Handler())
			}

			return h
		},
		httpx.WithLogger(lg),
	)
	if err != nil {
		lg.Error().Err(err).Msg("couldn't init the monitoring server")
	}
	return &Monitoring{conf: conf, log: lg, server: serv}
}

func (m *Monitoring) Run() {
	if m.server == nil {
		return
	}
	m.log.Info().Msgf("starting monitoring server at %v", m.server.Addr)
	m.server.Run()
}

func (m *Monitoring) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	m.log.Debug().Msg("shutting down the monitoring server")
	return m.server.Shutdown(ctx)
}

func (m *Monitoring) String() string {
	return fmt.Sprintf("monitoring::%s:%d", m.conf.URLPrefix, m.conf.Port)
}
