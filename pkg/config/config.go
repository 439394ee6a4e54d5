package config

import (
	"errors"

	"github.com/kkyr/fig"
	"github.com/spf13/pflag"
)

type RelayConfig struct {
	Relay Relay
	Media Media
}

type Relay struct {
	Debug      bool
	Server     Server
	Monitoring Monitoring
}

type Server struct {
	Address  string
	PortRoll bool
	Https    bool
	Tls      Tls
}

type Tls struct {
	Address string
	Domain  string
	// paths to the custom cert and key files when
	// the automatic certification is off
	HttpsCert string
	HttpsKey  string
}

type Monitoring struct {
	Port             int
	URLPrefix        string
	MetricEnabled    bool
	ProfilingEnabled bool
}

func (m Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

type Media struct {
	// Engine selects the negotiation backend: pion or kurento
	Engine  string
	Kurento Kurento
	Webrtc  Webrtc
}

type Kurento struct {
	// websocket address of the media server, e.g. ws://localhost:8888/kurento
	Address     string
	CallTimeout int
}

type Webrtc struct {
	DisableDefaultInterceptors bool
	IceServers                 []IceServer
	IcePorts                   struct {
		Min uint16
		Max uint16
	}
	IceIpMap string
	LogLevel int
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func (w *Webrtc) HasPortRange() bool { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }
func (w *Webrtc) HasIceIpMap() bool  { return w.IceIpMap != "" }

// NewRelayConfig loads a relay configuration with all defaults
// overridden by the config file and environment variables.
func NewRelayConfig(path string) (conf RelayConfig, err error) {
	conf = RelayConfig{
		Relay: Relay{
			Server: Server{Address: ":8443"},
			Monitoring: Monitoring{
				Port:      6601,
				URLPrefix: "/relay",
			},
		},
		Media: Media{
			Engine: "pion",
			Kurento: Kurento{
				Address:     "ws://localhost:8888/kurento",
				CallTimeout: 10,
			},
			Webrtc: Webrtc{
				IceServers: []IceServer{{Urls: "stun:stun.l.google.com:19302"}},
			},
		},
	}
	err = LoadConfig(&conf, path)
	if errors.Is(err, fig.ErrFileNotFound) {
		// the file is optional, the defaults and env vars still apply
		err = LoadConfigEnv(&conf)
	}
	return
}

func (c *RelayConfig) ParseFlags() {
	c.AddFlags(pflag.CommandLine)
	pflag.Parse()
}

func (c *RelayConfig) AddFlags(fs *pflag.FlagSet) *RelayConfig {
	fs.BoolVarP(&c.Relay.Debug, "debug", "v", c.Relay.Debug, "Enable debug logging")
	fs.StringVar(&c.Relay.Server.Address, "address", c.Relay.Server.Address, "Signaling server address")
	fs.StringVar(&c.Media.Engine, "engine", c.Media.Engine, "Negotiation engine: [pion, kurento]")
	fs.StringVar(&c.Media.Kurento.Address, "kurento", c.Media.Kurento.Address, "Kurento media server websocket address")
	return c
}
