package signal

import (
	"context"
	"sync"
	"time"

	"github.com/solser12/kurento/pkg/api"
	"github.com/solser12/kurento/pkg/logger"
	"github.com/solser12/kurento/pkg/media"
	"github.com/solser12/kurento/pkg/network"
)

const negotiationTimeout = 10 * time.Second

// Handler drives the signaling state machine of the relay: it validates
// inbound messages against the registry, asks the media service for
// pipelines and endpoints, and answers or rejects over the originating
// channel. Role transitions and teardown are mutually exclusive under a
// single coarse lock; candidate relay bypasses it.
type Handler struct {
	mu  sync.Mutex
	reg *Registry
	svc media.Service
	log *logger.Logger
}

func NewHandler(reg *Registry, svc media.Service, log *logger.Logger) *Handler {
	return &Handler{reg: reg, svc: svc, log: log}
}

// Handle processes one inbound message of a session. Messages of one
// channel arrive here in order; unknown ids are ignored for forward
// compatibility.
func (h *Handler) Handle(ctx context.Context, s *Session, in api.In) {
	if s.State() == Closed {
		return
	}
	switch in.Id {
	case api.Presenter:
		if err := h.presenter(ctx, s, in.SdpOffer); err != nil {
			h.reject(s, api.PresenterResponse, err)
		}
	case api.Viewer:
		if err := h.viewer(ctx, s, network.Uid(in.JoinId), in.SdpOffer); err != nil {
			h.reject(s, api.ViewerResponse, err)
		}
	case api.OnIceCandidate:
		if in.Candidate != nil {
			s.AddCandidate(*in.Candidate)
		}
	case api.Stop:
		h.Stop(s)
		s.close()
	default:
		h.log.Debug().Msgf("ignored unknown message [%v]", in.Id)
	}
}

// Disconnect runs teardown for a dropped transport, with the exact
// semantics of an explicit stop.
func (h *Handler) Disconnect(s *Session) {
	h.Stop(s)
	s.close()
}

// reject converts a signaling error into a rejection response. A failed
// negotiation additionally triggers a defensive stop so partially created
// resources never leak; registry rejections (conflict, not found) leave
// existing registrations untouched.
func (h *Handler) reject(s *Session, responseId string, err error) {
	reason := err.Error()
	if neg, ok := err.(*NegotiationError); ok {
		h.Stop(s)
		if neg.Err != nil {
			reason = neg.Err.Error()
		}
		h.log.Error().Err(neg.Err).Msgf("%v negotiation fail", s.Id().Short())
	}
	s.Send(api.Reject(responseId, reason))
}

func (h *Handler) presenter(ctx context.Context, s *Session, sdpOffer string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, negotiationTimeout)
	defer cancel()

	if h.reg.IsPresenter(s.Id()) {
		// idempotent re-assertion: same pipeline and endpoint, fresh answer
		endpoint := s.endpointRef()
		sdpAnswer, err := endpoint.ProcessOffer(ctx, sdpOffer)
		if err != nil {
			return negotiationFail("reassert offer", err)
		}
		s.Send(api.Accept(api.PresenterResponse, sdpAnswer))
		_ = endpoint.GatherCandidates()
		return nil
	}
	if err := h.reg.RegisterPresenter(s); err != nil {
		return err
	}
	s.negotiating()

	pipeline, err := h.svc.CreatePipeline(ctx)
	if err != nil {
		h.reg.Remove(s.Id())
		s.idle()
		return negotiationFail("create pipeline", err)
	}
	endpoint, err := pipeline.CreateEndpoint(ctx)
	if err != nil {
		h.reg.Remove(s.Id())
		pipeline.Release()
		s.idle()
		return negotiationFail("create endpoint", err)
	}
	endpoint.OnCandidate(func(c media.Candidate) { s.Send(api.NewIceCandidate(c)) })

	sdpAnswer, err := endpoint.ProcessOffer(ctx, sdpOffer)
	if err != nil {
		h.reg.Remove(s.Id())
		endpoint.Release()
		pipeline.Release()
		s.idle()
		return negotiationFail("process offer", err)
	}

	s.attach(endpoint, pipeline)
	h.log.Info().Msgf("%v is the presenter now", s.Id().Short())
	s.Send(api.Accept(api.PresenterResponse, sdpAnswer))
	_ = endpoint.GatherCandidates()
	return nil
}

func (h *Handler) viewer(ctx context.Context, s *Session, joinId network.Uid, sdpOffer string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, negotiationTimeout)
	defer cancel()

	src, err := h.reg.LookupPresenter(joinId)
	if err != nil {
		return err
	}
	srcEndpoint := src.endpointRef()
	if srcEndpoint == nil {
		return &NotFoundError{Reason: msgNoPresenter}
	}
	// the presenter joining its own broadcast is a plain rejection,
	// nothing of the running broadcast may be touched
	if h.reg.IsPresenter(s.Id()) || h.reg.IsViewer(s.Id()) {
		return &ConflictError{Reason: msgAlreadyViewing}
	}

	s.negotiating()
	pipeline := src.pipelineRef()
	endpoint, err := pipeline.CreateEndpoint(ctx)
	if err != nil {
		s.idle()
		return negotiationFail("create endpoint", err)
	}
	endpoint.OnCandidate(func(c media.Candidate) { s.Send(api.NewIceCandidate(c)) })

	if err = srcEndpoint.Connect(endpoint); err != nil {
		endpoint.Release()
		s.idle()
		return negotiationFail("connect", err)
	}
	sdpAnswer, err := endpoint.ProcessOffer(ctx, sdpOffer)
	if err != nil {
		endpoint.Release()
		s.idle()
		return negotiationFail("process offer", err)
	}
	if err = h.reg.RegisterViewer(s); err != nil {
		endpoint.Release()
		s.idle()
		return err
	}

	s.attach(endpoint, nil)
	h.log.Info().Msgf("%v is viewing %v", s.Id().Short(), joinId.Short())
	s.Send(api.Accept(api.ViewerResponse, sdpAnswer))
	_ = endpoint.GatherCandidates()
	return nil
}

// Stop tears down whatever the session holds. Stopping the presenter
// notifies every viewer and destroys the shared pipeline; stopping a
// viewer affects only itself; stopping anything else is a no-op.
// Safe to call any number of times.
func (h *Handler) Stop(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := s.Id()
	switch {
	case h.reg.IsPresenter(id):
		viewers := h.reg.Viewers()
		for _, v := range viewers {
			v.Send(api.NewStopCommunication())
			v.release()
		}
		s.release() // viewer endpoints are gone, now the pipeline
		h.reg.ClearBroadcast(id)
		h.log.Info().Msgf("%v stopped presenting, %d viewers dropped", id.Short(), len(viewers))
	case h.reg.IsViewer(id):
		s.release()
		h.reg.Remove(id)
		h.log.Info().Msgf("%v stopped viewing", id.Short())
	default:
		// unknown or already stopped
	}
}
