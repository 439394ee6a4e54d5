package config

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
)

func TestDefaults(t *testing.T) {
	conf, err := NewRelayConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if conf.Relay.Server.Address != ":8443" {
		t.Errorf("wrong default address: %v", conf.Relay.Server.Address)
	}
	if conf.Media.Engine != "pion" {
		t.Errorf("wrong default engine: %v", conf.Media.Engine)
	}
	if conf.Media.Kurento.Address != "ws://localhost:8888/kurento" {
		t.Errorf("wrong default kurento address: %v", conf.Media.Kurento.Address)
	}
	if conf.Relay.Monitoring.Port != 6601 {
		t.Errorf("wrong default monitoring port: %v", conf.Relay.Monitoring.Port)
	}
	if len(conf.Media.Webrtc.IceServers) == 0 {
		t.Error("no default ice servers")
	}
}

func TestConfigEnv(t *testing.T) {
	_ = os.Setenv("RELAY_MEDIA_ENGINE", "kurento")
	_ = os.Setenv("RELAY_RELAY_SERVER_ADDRESS", ":9443")
	defer func() {
		_ = os.Unsetenv("RELAY_MEDIA_ENGINE")
		_ = os.Unsetenv("RELAY_RELAY_SERVER_ADDRESS")
	}()

	conf, err := NewRelayConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if conf.Media.Engine != "kurento" {
		t.Errorf("%v is not kurento", conf.Media.Engine)
	}
	if conf.Relay.Server.Address != ":9443" {
		t.Errorf("%v is not :9443", conf.Relay.Server.Address)
	}
}

func TestFlags(t *testing.T) {
	conf, err := NewRelayConfig("")
	if err != nil {
		t.Fatal(err)
	}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	conf.AddFlags(fs)
	if err := fs.Parse([]string{"--engine", "kurento", "--address", ":7000", "-v"}); err != nil {
		t.Fatal(err)
	}
	if conf.Media.Engine != "kurento" || conf.Relay.Server.Address != ":7000" || !conf.Relay.Debug {
		t.Errorf("flags were not applied: %+v", conf)
	}
}

func TestWebrtcHelpers(t *testing.T) {
	var w Webrtc
	if w.HasPortRange() || w.HasIceIpMap() {
		t.Error("zero config must report nothing")
	}
	w.IcePorts.Min, w.IcePorts.Max = 40000, 41000
	w.IceIpMap = "10.0.0.1"
	if !w.HasPortRange() || !w.HasIceIpMap() {
		t.Error("helpers ignore the set values")
	}
}
