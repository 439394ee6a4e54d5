package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/solser12/kurento/pkg/api"
	"github.com/solser12/kurento/pkg/logger"
	"github.com/solser12/kurento/pkg/media"
	"github.com/solser12/kurento/pkg/network"
)

type fakeService struct {
	mu        sync.Mutex
	pipelines []*fakePipeline
	failNext  error
}

func (f *fakeService) CreatePipeline(context.Context) (media.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	p := &fakePipeline{}
	f.pipelines = append(f.pipelines, p)
	return p, nil
}

type fakePipeline struct {
	mu        sync.Mutex
	endpoints []*fakeEndpoint
	released  bool
	failOffer bool
}

func (p *fakePipeline) CreateEndpoint(context.Context) (media.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := &fakeEndpoint{pipeline: p, failOffer: p.failOffer}
	p.endpoints = append(p.endpoints, e)
	return e, nil
}

func (p *fakePipeline) Release() {
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()
}

type fakeEndpoint struct {
	pipeline *fakePipeline

	mu          sync.Mutex
	offers      []string
	candidates  []media.Candidate
	sinks       []media.Endpoint
	gathered    int
	released    bool
	failOffer   bool
	onCandidate func(media.Candidate)
}

func (e *fakeEndpoint) Connect(sink media.Endpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
	return nil
}

func (e *fakeEndpoint) ProcessOffer(_ context.Context, sdpOffer string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failOffer {
		return "", errors.New("offer rejected")
	}
	e.offers = append(e.offers, sdpOffer)
	return "answer:" + sdpOffer, nil
}

func (e *fakeEndpoint) GatherCandidates() error {
	e.mu.Lock()
	e.gathered++
	e.mu.Unlock()
	return nil
}

func (e *fakeEndpoint) OnCandidate(fn func(media.Candidate)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

func (e *fakeEndpoint) AddCandidate(c media.Candidate) error {
	e.mu.Lock()
	e.candidates = append(e.candidates, c)
	e.mu.Unlock()
	return nil
}

func (e *fakeEndpoint) Release() {
	e.mu.Lock()
	e.released = true
	e.mu.Unlock()
}

type recordChannel struct {
	mu   sync.Mutex
	sent []api.Out
	fail bool
}

func (c *recordChannel) Send(out api.Out) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("gone")
	}
	c.sent = append(c.sent, out)
	return nil
}

func (c *recordChannel) last() (api.Out, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return api.Out{}, false
	}
	return c.sent[len(c.sent)-1], true
}

func (c *recordChannel) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, out := range c.sent {
		if out.Id == id {
			n++
		}
	}
	return n
}

type testPeer struct {
	session *Session
	channel *recordChannel
}

func newPeer(id string) *testPeer {
	ch := &recordChannel{}
	return &testPeer{
		session: NewSession(network.Uid(id), ch, logger.Default()),
		channel: ch,
	}
}

func newTestHandler() (*Handler, *fakeService) {
	svc := &fakeService{}
	return NewHandler(NewRegistry(), svc, logger.Default()), svc
}

func present(t *testing.T, h *Handler, p *testPeer, offer string) {
	t.Helper()
	h.Handle(context.Background(), p.session, api.In{Id: api.Presenter, SdpOffer: offer})
	out, ok := p.channel.last()
	if !ok || out.Response != api.Accepted {
		t.Fatalf("presenter was not accepted: %+v", out)
	}
}

func view(t *testing.T, h *Handler, p *testPeer, joinId string, offer string) {
	t.Helper()
	h.Handle(context.Background(), p.session, api.In{Id: api.Viewer, JoinId: joinId, SdpOffer: offer})
	out, ok := p.channel.last()
	if !ok || out.Response != api.Accepted {
		t.Fatalf("viewer was not accepted: %+v", out)
	}
}

func TestPresenterAccepted(t *testing.T) {
	h, svc := newTestHandler()
	alice := newPeer("alice")

	present(t, h, alice, "offer-a")

	out, _ := alice.channel.last()
	if out.Id != api.PresenterResponse || out.SdpAnswer != "answer:offer-a" {
		t.Errorf("unexpected response: %+v", out)
	}
	if len(svc.pipelines) != 1 || len(svc.pipelines[0].endpoints) != 1 {
		t.Error("exactly one pipeline with one endpoint was expected")
	}
	if svc.pipelines[0].endpoints[0].gathered != 1 {
		t.Error("candidate gathering did not start")
	}
	if alice.session.State() != Active {
		t.Errorf("session must be active, is %v", alice.session.State())
	}
}

func TestPresenterReassertion(t *testing.T) {
	h, svc := newTestHandler()
	alice := newPeer("alice")

	present(t, h, alice, "offer-1")
	present(t, h, alice, "offer-2")

	if len(svc.pipelines) != 1 {
		t.Fatalf("re-assertion must reuse the pipeline, got %d", len(svc.pipelines))
	}
	if len(svc.pipelines[0].endpoints) != 1 {
		t.Fatalf("re-assertion must reuse the endpoint, got %d", len(svc.pipelines[0].endpoints))
	}
	out, _ := alice.channel.last()
	if out.SdpAnswer != "answer:offer-2" {
		t.Errorf("the answer must be fresh, got %q", out.SdpAnswer)
	}
}

func TestPresenterSlotConflict(t *testing.T) {
	h, svc := newTestHandler()
	alice := newPeer("alice")
	bob := newPeer("bob")

	present(t, h, alice, "offer-a")
	h.Handle(context.Background(), bob.session, api.In{Id: api.Presenter, SdpOffer: "offer-b"})

	out, _ := bob.channel.last()
	if out.Id != api.PresenterResponse || out.Response != api.Rejected {
		t.Fatalf("second presenter was not rejected: %+v", out)
	}
	if out.Message != msgPresenterTaken {
		t.Errorf("wrong rejection text: %q", out.Message)
	}
	// the running broadcast is untouched
	if len(svc.pipelines) != 1 || svc.pipelines[0].released {
		t.Error("the active pipeline must survive a rejected claim")
	}
	if alice.session.State() != Active {
		t.Error("the presenter must stay active")
	}
}

func TestViewerWithoutPresenter(t *testing.T) {
	h, _ := newTestHandler()
	bob := newPeer("bob")

	h.Handle(context.Background(), bob.session, api.In{Id: api.Viewer, JoinId: "alice", SdpOffer: "offer"})

	out, _ := bob.channel.last()
	if out.Id != api.ViewerResponse || out.Response != api.Rejected {
		t.Fatalf("expected a rejection: %+v", out)
	}
	if out.Message != msgNoPresenter {
		t.Errorf("wrong rejection text: %q", out.Message)
	}
	if bob.session.State() != Idle {
		t.Error("a rejected viewer must remain idle")
	}
}

func TestViewerAccepted(t *testing.T) {
	h, svc := newTestHandler()
	alice := newPeer("alice")
	bob := newPeer("bob")

	present(t, h, alice, "offer-a")
	view(t, h, bob, "alice", "offer-b")

	out, _ := bob.channel.last()
	if out.Id != api.ViewerResponse || out.SdpAnswer != "answer:offer-b" {
		t.Errorf("unexpected response: %+v", out)
	}
	// the viewer endpoint shares the presenter pipeline and feeds off
	// the presenter endpoint
	pipe := svc.pipelines[0]
	if len(pipe.endpoints) != 2 {
		t.Fatalf("expected 2 endpoints on the shared pipeline, got %d", len(pipe.endpoints))
	}
	src := pipe.endpoints[0]
	if len(src.sinks) != 1 || src.sinks[0] != media.Endpoint(pipe.endpoints[1]) {
		t.Error("the viewer endpoint is not connected to the source")
	}
}

func TestViewerDuplicate(t *testing.T) {
	h, _ := newTestHandler()
	alice := newPeer("alice")
	bob := newPeer("bob")

	present(t, h, alice, "offer-a")
	view(t, h, bob, "alice", "offer-b")
	h.Handle(context.Background(), bob.session, api.In{Id: api.Viewer, JoinId: "alice", SdpOffer: "offer-b2"})

	out, _ := bob.channel.last()
	if out.Response != api.Rejected || out.Message != msgAlreadyViewing {
		t.Fatalf("duplicate viewer was not rejected: %+v", out)
	}
	// the rejection must not have torn anything down
	if !h.reg.IsViewer(bob.session.Id()) {
		t.Error("the original viewer registration must survive")
	}
	if !h.reg.IsPresenter(alice.session.Id()) {
		t.Error("the presenter must survive")
	}
}

func TestPresenterSelfJoin(t *testing.T) {
	h, svc := newTestHandler()
	alice := newPeer("alice")
	bob := newPeer("bob")

	present(t, h, alice, "offer-a")
	view(t, h, bob, "alice", "offer-b")

	// the presenter joining its own broadcast is rejected without
	// touching the running broadcast
	h.Handle(context.Background(), alice.session, api.In{Id: api.Viewer, JoinId: "alice", SdpOffer: "offer-self"})

	out, _ := alice.channel.last()
	if out.Id != api.ViewerResponse || out.Response != api.Rejected {
		t.Fatalf("self join was not rejected: %+v", out)
	}
	if out.Message != msgAlreadyViewing {
		t.Errorf("wrong rejection text: %q", out.Message)
	}
	pipe := svc.pipelines[0]
	if pipe.released || pipe.endpoints[0].released {
		t.Fatal("the broadcast was torn down by a rejected self join")
	}
	if alice.session.endpointRef() == nil {
		t.Fatal("the presenter session lost its endpoint")
	}
	if !h.reg.IsPresenter(alice.session.Id()) || !h.reg.IsViewer(bob.session.Id()) {
		t.Error("the registry must be unchanged")
	}
	if n := bob.channel.count(api.StopCommunication); n != 0 {
		t.Errorf("viewers must not be notified, got %d", n)
	}

	// the presenter can still renegotiate over the same endpoint
	present(t, h, alice, "offer-again")
	if len(svc.pipelines) != 1 || len(pipe.endpoints) != 2 {
		t.Error("re-assertion must reuse the existing pipeline")
	}
	out, _ = alice.channel.last()
	if out.SdpAnswer != "answer:offer-again" {
		t.Errorf("the answer must be fresh, got %q", out.SdpAnswer)
	}
}

func TestPresenterStopCascades(t *testing.T) {
	h, svc := newTestHandler()
	alice := newPeer("alice")
	viewers := []*testPeer{newPeer("v1"), newPeer("v2"), newPeer("v3")}

	present(t, h, alice, "offer-a")
	for _, v := range viewers {
		view(t, h, v, "alice", "offer-"+string(v.session.Id()))
	}

	h.Handle(context.Background(), alice.session, api.In{Id: api.Stop})

	for _, v := range viewers {
		if n := v.channel.count(api.StopCommunication); n != 1 {
			t.Errorf("%v got %d stop notifications, want 1", v.session.Id(), n)
		}
		if v.session.State() != Idle {
			t.Errorf("%v must be back to idle", v.session.Id())
		}
	}
	if n := alice.channel.count(api.StopCommunication); n != 0 {
		t.Errorf("the presenter must not be notified about its own stop, got %d", n)
	}
	if !svc.pipelines[0].released {
		t.Error("the pipeline was not released")
	}
	for _, e := range svc.pipelines[0].endpoints {
		if !e.released {
			t.Error("an endpoint was not released")
		}
	}
	if _, ok := h.reg.Presenter(); ok || len(h.reg.Viewers()) != 0 {
		t.Error("the registry must be empty after the cascade")
	}
	if alice.session.State() != Closed {
		t.Error("an explicit stop must close the session")
	}
}

func TestViewerStopLeavesBroadcast(t *testing.T) {
	h, svc := newTestHandler()
	alice := newPeer("alice")
	bob := newPeer("bob")
	carol := newPeer("carol")

	present(t, h, alice, "offer-a")
	view(t, h, bob, "alice", "offer-b")
	view(t, h, carol, "alice", "offer-c")

	h.Handle(context.Background(), bob.session, api.In{Id: api.Stop})

	if h.reg.IsViewer(bob.session.Id()) {
		t.Error("bob must be unregistered")
	}
	if !h.reg.IsViewer(carol.session.Id()) || !h.reg.IsPresenter(alice.session.Id()) {
		t.Error("the broadcast must continue for everyone else")
	}
	if svc.pipelines[0].released {
		t.Error("the shared pipeline must survive a viewer leaving")
	}
	if n := carol.channel.count(api.StopCommunication); n != 0 {
		t.Error("other viewers must not be notified")
	}
}

func TestStopIdempotent(t *testing.T) {
	h, _ := newTestHandler()
	alice := newPeer("alice")

	present(t, h, alice, "offer-a")
	h.Stop(alice.session)
	h.Stop(alice.session)
	h.Stop(newPeer("stranger").session) // never registered

	if _, ok := h.reg.Presenter(); ok {
		t.Error("the registry must stay empty")
	}
}

func TestClosedSessionIgnoresMessages(t *testing.T) {
	h, svc := newTestHandler()
	alice := newPeer("alice")

	present(t, h, alice, "offer-a")
	h.Handle(context.Background(), alice.session, api.In{Id: api.Stop})
	sent := len(alice.channel.sent)

	h.Handle(context.Background(), alice.session, api.In{Id: api.Presenter, SdpOffer: "offer-again"})

	if len(alice.channel.sent) != sent {
		t.Error("a closed session must not produce responses")
	}
	if len(svc.pipelines) != 1 {
		t.Error("a closed session must not negotiate")
	}
}

func TestCandidateBuffering(t *testing.T) {
	h, svc := newTestHandler()
	alice := newPeer("alice")

	early := []media.Candidate{
		{Candidate: "c1", SdpMid: "0", SdpMLineIndex: 0},
		{Candidate: "c2", SdpMid: "0", SdpMLineIndex: 0},
	}
	for i := range early {
		h.Handle(context.Background(), alice.session, api.In{Id: api.OnIceCandidate, Candidate: &early[i]})
	}

	present(t, h, alice, "offer-a")

	endpoint := svc.pipelines[0].endpoints[0]
	if len(endpoint.candidates) != 2 {
		t.Fatalf("buffered candidates were not replayed, got %d", len(endpoint.candidates))
	}
	for i, c := range endpoint.candidates {
		if c.Candidate != early[i].Candidate {
			t.Errorf("replay out of order at %d: %q", i, c.Candidate)
		}
	}

	late := media.Candidate{Candidate: "c3", SdpMid: "0", SdpMLineIndex: 0}
	h.Handle(context.Background(), alice.session, api.In{Id: api.OnIceCandidate, Candidate: &late})
	if len(endpoint.candidates) != 3 {
		t.Error("a late candidate must go straight to the endpoint")
	}
}

func TestCandidatePush(t *testing.T) {
	h, svc := newTestHandler()
	alice := newPeer("alice")

	present(t, h, alice, "offer-a")

	endpoint := svc.pipelines[0].endpoints[0]
	endpoint.onCandidate(media.Candidate{Candidate: "local1", SdpMid: "0", SdpMLineIndex: 0})

	out, _ := alice.channel.last()
	if out.Id != api.IceCandidate || out.Candidate == nil || out.Candidate.Candidate != "local1" {
		t.Errorf("local candidate was not pushed: %+v", out)
	}
}

func TestNegotiationFailureReleases(t *testing.T) {
	h, svc := newTestHandler()
	alice := newPeer("alice")

	svc.failNext = fmt.Errorf("no media server")
	h.Handle(context.Background(), alice.session, api.In{Id: api.Presenter, SdpOffer: "offer-a"})

	out, _ := alice.channel.last()
	if out.Response != api.Rejected {
		t.Fatalf("failed negotiation was not rejected: %+v", out)
	}
	if _, ok := h.reg.Presenter(); ok {
		t.Error("the slot must be free again after a failure")
	}
	if alice.session.State() != Idle {
		t.Errorf("failure must not close the session, state is %v", alice.session.State())
	}

	// the slot is reusable right away
	present(t, h, alice, "offer-retry")
	if len(svc.pipelines) != 1 {
		t.Errorf("retry must allocate one pipeline, got %d", len(svc.pipelines))
	}
}

func TestOfferFailureReleasesEndpoint(t *testing.T) {
	h, svc := newTestHandler()
	alice := newPeer("alice")
	bob := newPeer("bob")

	present(t, h, alice, "offer-a")
	svc.pipelines[0].failOffer = true
	h.Handle(context.Background(), bob.session, api.In{Id: api.Viewer, JoinId: "alice", SdpOffer: "offer-b"})

	out, _ := bob.channel.last()
	if out.Response != api.Rejected {
		t.Fatalf("expected a rejection: %+v", out)
	}
	pipe := svc.pipelines[0]
	if len(pipe.endpoints) != 2 || !pipe.endpoints[1].released {
		t.Error("the half built viewer endpoint was not released")
	}
	if pipe.released || pipe.endpoints[0].released {
		t.Error("the broadcast must survive a failed viewer join")
	}
	if h.reg.IsViewer(bob.session.Id()) {
		t.Error("a failed viewer must not be registered")
	}
}

func TestDisconnectActsAsStop(t *testing.T) {
	h, _ := newTestHandler()
	alice := newPeer("alice")
	bob := newPeer("bob")

	present(t, h, alice, "offer-a")
	view(t, h, bob, "alice", "offer-b")

	h.Disconnect(alice.session)

	if n := bob.channel.count(api.StopCommunication); n != 1 {
		t.Errorf("viewers must be notified on presenter disconnect, got %d", n)
	}
	if alice.session.State() != Closed {
		t.Error("a disconnected session must be closed")
	}
}

func TestStopNotificationSurvivesDeadChannel(t *testing.T) {
	h, _ := newTestHandler()
	alice := newPeer("alice")
	bob := newPeer("bob")
	carol := newPeer("carol")

	present(t, h, alice, "offer-a")
	view(t, h, bob, "alice", "offer-b")
	view(t, h, carol, "alice", "offer-c")

	bob.channel.fail = true
	h.Handle(context.Background(), alice.session, api.In{Id: api.Stop})

	if n := carol.channel.count(api.StopCommunication); n != 1 {
		t.Errorf("a dead channel must not block other notifications, got %d", n)
	}
	if len(h.reg.Viewers()) != 0 {
		t.Error("teardown must complete despite send failures")
	}
}

func TestUnknownMessageIgnored(t *testing.T) {
	h, _ := newTestHandler()
	alice := newPeer("alice")

	h.Handle(context.Background(), alice.session, api.In{Id: "teleport"})

	if len(alice.channel.sent) != 0 {
		t.Error("unknown ids must produce no response")
	}
	if alice.session.State() != Idle {
		t.Error("unknown ids must not change state")
	}
}
