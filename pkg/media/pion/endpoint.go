package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/solser12/kurento/pkg/logger"
	"github.com/solser12/kurento/pkg/media"
)

var errPipelineClosed = errors.New("pion: the pipeline is released")

type endpoint struct {
	id       string
	pc       *webrtc.PeerConnection
	pipeline *pipeline
	log      *logger.Logger

	mu          sync.Mutex
	onCandidate func(media.Candidate)
	sinks       []*endpoint
	closed      bool
}

func (e *endpoint) pushCandidate(c media.Candidate) {
	e.mu.Lock()
	fn := e.onCandidate
	e.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (e *endpoint) OnCandidate(fn func(media.Candidate)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

// Connect subscribes the sink to this endpoint's media: the tracks
// relayed so far are added right away, tracks arriving later reach the
// sink through the pipeline fan-out. Must precede the sink's offer
// processing so the tracks make it into the answer.
func (e *endpoint) Connect(sink media.Endpoint) error {
	other, ok := sink.(*endpoint)
	if !ok {
		return fmt.Errorf("pion: can't connect a foreign endpoint %T", sink)
	}
	e.mu.Lock()
	e.sinks = append(e.sinks, other)
	e.mu.Unlock()
	for _, track := range e.pipeline.localTracks() {
		if err := other.addTrack(track); err != nil {
			return err
		}
	}
	return nil
}

func (e *endpoint) snapshotSinks() []*endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*endpoint(nil), e.sinks...)
}

func (e *endpoint) addTrack(track *webrtc.TrackLocalStaticRTP) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil
	}
	_, err := e.pc.AddTrack(track)
	return err
}

func (e *endpoint) ProcessOffer(_ context.Context, sdpOffer string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpOffer}
	if err := e.pc.SetRemoteDescription(offer); err != nil {
		return "", err
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err = e.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

// GatherCandidates is a formality here: pion starts discovery on its own
// once the local description is set.
func (e *endpoint) GatherCandidates() error { return nil }

func (e *endpoint) AddCandidate(candidate media.Candidate) error {
	mid, line := candidate.SdpMid, candidate.SdpMLineIndex
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &line,
	})
}

func (e *endpoint) Release() {
	e.pipeline.drop(e.id)
	e.close()
}

func (e *endpoint) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.onCandidate = nil
	e.sinks = nil
	e.mu.Unlock()
	if err := e.pc.Close(); err != nil {
		e.log.Warn().Err(err).Msg("peer connection close fail")
	}
}
