package main

import (
	"context"
	goflag "flag"

	"github.com/solser12/kurento/pkg/config"
	"github.com/solser12/kurento/pkg/logger"
	"github.com/solser12/kurento/pkg/monitoring"
	"github.com/solser12/kurento/pkg/os"
	"github.com/solser12/kurento/pkg/relay"
	"github.com/solser12/kurento/pkg/service"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf, err := config.NewRelayConfig("")
	if err != nil {
		panic(err)
	}
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Relay.Debug, "r", false)

	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	r, err := relay.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("relay init fail")
	}

	var services service.Group
	services.Add(r)
	if conf.Relay.Monitoring.IsEnabled() {
		services.Add(monitoring.New(conf.Relay.Monitoring, "r", log))
	}
	services.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if err := services.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()
	<-os.ExpectTermination()
	cancel()
}
