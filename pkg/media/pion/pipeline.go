package pion

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/solser12/kurento/pkg/media"
)

// pipeline groups the endpoints of one broadcast and owns the relayed
// tracks. It dies as a whole: releasing it closes every endpoint.
type pipeline struct {
	engine *Engine

	mu        sync.Mutex
	endpoints map[string]*endpoint
	tracks    []*webrtc.TrackLocalStaticRTP
	closed    bool
}

func newPipeline(e *Engine) *pipeline {
	return &pipeline{engine: e, endpoints: make(map[string]*endpoint, 4)}
}

func (p *pipeline) CreateEndpoint(_ context.Context) (media.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errPipelineClosed
	}
	pc, err := p.engine.api.NewPeerConnection(p.engine.conf)
	if err != nil {
		return nil, err
	}
	e := &endpoint{
		id:       uuid.Must(uuid.NewV4()).String(),
		pc:       pc,
		pipeline: p,
		log:      p.engine.log,
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		candidate := media.Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			candidate.SdpMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			candidate.SdpMLineIndex = *init.SDPMLineIndex
		}
		e.pushCandidate(candidate)
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) { p.relayTrack(e, remote) })
	p.endpoints[e.id] = e
	return e, nil
}

// relayTrack mirrors an inbound remote track into a local static RTP
// track and fans it out to every connected sink. Runs until the remote
// track or the pipeline goes away.
func (p *pipeline) relayTrack(src *endpoint, remote *webrtc.TrackRemote) {
	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.ID(), remote.StreamID())
	if err != nil {
		p.engine.log.Error().Err(err).Msg("can't mirror a remote track")
		return
	}

	p.mu.Lock()
	p.tracks = append(p.tracks, local)
	sinks := src.snapshotSinks()
	p.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.addTrack(local); err != nil {
			p.engine.log.Warn().Err(err).Msg("track fan-out fail")
		}
	}

	for {
		packet, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if err = local.WriteRTP(packet); err != nil {
			return
		}
	}
}

func (p *pipeline) localTracks() []*webrtc.TrackLocalStaticRTP {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*webrtc.TrackLocalStaticRTP(nil), p.tracks...)
}

func (p *pipeline) drop(id string) {
	p.mu.Lock()
	delete(p.endpoints, id)
	p.mu.Unlock()
}

func (p *pipeline) Release() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	endpoints := make([]*endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		endpoints = append(endpoints, e)
	}
	p.endpoints = map[string]*endpoint{}
	p.tracks = nil
	p.mu.Unlock()
	for _, e := range endpoints {
		e.close()
	}
}
