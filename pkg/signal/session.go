package signal

import (
	"sync"

	"github.com/solser12/kurento/pkg/api"
	"github.com/solser12/kurento/pkg/logger"
	"github.com/solser12/kurento/pkg/media"
	"github.com/solser12/kurento/pkg/network"
)

// Channel is the outbound half of a participant's message channel.
// Implementations must serialize writes on their own.
type Channel interface {
	Send(out api.Out) error
}

type State uint8

const (
	Idle State = iota
	Negotiating
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Active:
		return "active"
	case Closed:
		return "closed"
	}
	return "?"
}

// Session is the signaling state of one connected participant.
// Its role (presenter or viewer) is derived from registry membership,
// never stored here.
type Session struct {
	id      network.Uid
	channel Channel
	log     *logger.Logger

	mu       sync.Mutex
	state    State
	endpoint media.Endpoint
	pipeline media.Pipeline // owned only when this session presents
	// candidates arriving before the endpoint exists are kept
	// and replayed on attach instead of being dropped
	pending []media.Candidate
}

func NewSession(id network.Uid, channel Channel, log *logger.Logger) *Session {
	return &Session{
		id:      id,
		channel: channel,
		log:     log.Extend(log.With().Str("c", id.Short())),
	}
}

func (s *Session) Id() network.Uid { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send pushes a message over the session's channel. Transport failures are
// logged and swallowed: a disconnected participant cannot be notified, and
// that must not fail whoever triggered the push.
func (s *Session) Send(out api.Out) {
	if err := s.channel.Send(out); err != nil {
		s.log.Warn().Err(err).Msgf("dropped outbound [%v]", out.Id)
	}
}

// AddCandidate relays an inbound connectivity candidate to the endpoint,
// or buffers it when the endpoint does not exist yet.
func (s *Session) AddCandidate(c media.Candidate) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	if s.endpoint == nil {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return
	}
	endpoint := s.endpoint
	s.mu.Unlock()
	if err := endpoint.AddCandidate(c); err != nil {
		s.log.Warn().Err(err).Msg("candidate rejected by the endpoint")
	}
}

// negotiating marks the beginning of an offer/answer exchange.
func (s *Session) negotiating() {
	s.mu.Lock()
	s.state = Negotiating
	s.mu.Unlock()
}

// attach binds the negotiated endpoint to the session and replays every
// candidate that arrived before the endpoint was created.
func (s *Session) attach(endpoint media.Endpoint, pipeline media.Pipeline) {
	s.mu.Lock()
	s.endpoint = endpoint
	s.pipeline = pipeline
	s.state = Active
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, c := range pending {
		if err := endpoint.AddCandidate(c); err != nil {
			s.log.Warn().Err(err).Msg("replayed candidate rejected by the endpoint")
		}
	}
}

// idle returns a failed negotiation to Idle. Unlike release it never
// touches what the session keeps attached, so a rejection cannot tear
// down resources of a live role.
func (s *Session) idle() {
	s.mu.Lock()
	if s.state == Negotiating {
		s.state = Idle
	}
	s.mu.Unlock()
}

// release frees the endpoint (and the pipeline when this session owns one)
// and returns the session to Idle unless it is already Closed.
func (s *Session) release() {
	s.mu.Lock()
	endpoint, pipeline := s.endpoint, s.pipeline
	s.endpoint, s.pipeline = nil, nil
	s.pending = nil
	if s.state != Closed {
		s.state = Idle
	}
	s.mu.Unlock()
	if endpoint != nil {
		endpoint.Release()
	}
	if pipeline != nil {
		pipeline.Release()
	}
}

// close makes the session terminal. Set on transport closure and on an
// explicit stop, never on mere negotiation failures.
func (s *Session) close() {
	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
}

func (s *Session) endpointRef() media.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

func (s *Session) pipelineRef() media.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline
}
