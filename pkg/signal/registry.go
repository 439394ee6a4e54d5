package signal

import (
	"sync"

	"github.com/solser12/kurento/pkg/network"
)

// Registry tracks which session holds the presenter slot and which
// sessions view it. One instance per process; every mutation is
// serialized under a single lock so the at-most-one-presenter and
// disjoint-sets invariants hold under concurrent joins and disconnects.
type Registry struct {
	mu        sync.Mutex
	presenter *Session
	viewers   map[network.Uid]*Session
	// sessions keeps every identity that became a presenter, so late
	// viewers can join by that identity; an entry leaves the map only
	// when its presenter is torn down.
	sessions map[network.Uid]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		viewers:  make(map[network.Uid]*Session, 8),
		sessions: make(map[network.Uid]*Session, 2),
	}
}

// RegisterPresenter claims the presenter slot. Re-registering the same
// session is idempotent; a different session gets a ConflictError.
func (r *Registry) RegisterPresenter(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presenter != nil && r.presenter.Id() != s.Id() {
		return &ConflictError{Reason: msgPresenterTaken}
	}
	if _, ok := r.viewers[s.Id()]; ok {
		// a session never sits in both sets
		delete(r.viewers, s.Id())
	}
	r.presenter = s
	r.sessions[s.Id()] = s
	return nil
}

// LookupPresenter resolves the session of a previously registered
// presenter identity.
func (r *Registry) LookupPresenter(joinId network.Uid) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[joinId]
	if !ok {
		return nil, &NotFoundError{Reason: msgNoPresenter}
	}
	return s, nil
}

// RegisterViewer adds a session to the viewer set.
func (r *Registry) RegisterViewer(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.viewers[s.Id()]; ok {
		return &ConflictError{Reason: msgAlreadyViewing}
	}
	if r.presenter != nil && r.presenter.Id() == s.Id() {
		return &ConflictError{Reason: msgAlreadyViewing}
	}
	r.viewers[s.Id()] = s
	return nil
}

func (r *Registry) Presenter() (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenter, r.presenter != nil
}

func (r *Registry) IsPresenter(id network.Uid) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenter != nil && r.presenter.Id() == id
}

func (r *Registry) IsViewer(id network.Uid) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.viewers[id]
	return ok
}

// Viewers returns a snapshot of the viewer set.
func (r *Registry) Viewers() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*Session, 0, len(r.viewers))
	for _, v := range r.viewers {
		list = append(list, v)
	}
	return list
}

// Remove drops the id from whichever set it belongs to. No-op when absent.
func (r *Registry) Remove(id network.Uid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presenter != nil && r.presenter.Id() == id {
		r.presenter = nil
		delete(r.sessions, id)
	}
	delete(r.viewers, id)
}

// ClearBroadcast empties the registry after a presenter teardown:
// the presenter slot, its join identity and the whole viewer set
// become invalid together with the shared pipeline.
func (r *Registry) ClearBroadcast(presenterId network.Uid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presenter = nil
	delete(r.sessions, presenterId)
	r.viewers = make(map[network.Uid]*Session, 8)
}
