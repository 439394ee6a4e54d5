// Package media defines the negotiation service contract of the relay.
// A service owns pipelines, a pipeline groups the endpoints of one
// broadcast, and an endpoint negotiates a single peer connection.
package media

import "context"

// Candidate is an ICE connectivity candidate in its wire form.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SdpMid        string `json:"sdpMid"`
	SdpMLineIndex uint16 `json:"sdpMLineIndex"`
}

type Service interface {
	CreatePipeline(ctx context.Context) (Pipeline, error)
}

type Pipeline interface {
	CreateEndpoint(ctx context.Context) (Endpoint, error)
	// Release destroys the pipeline together with every endpoint built on it.
	Release()
}

type Endpoint interface {
	// Connect attaches the sink endpoint to this endpoint's media output.
	// The link is one directional, from this source into the sink.
	Connect(sink Endpoint) error
	// ProcessOffer runs the offer/answer exchange and returns the SDP answer.
	ProcessOffer(ctx context.Context, sdpOffer string) (string, error)
	// GatherCandidates starts asynchronous local candidate discovery.
	GatherCandidates() error
	// OnCandidate subscribes to discovered local candidates. The subscription
	// lives as long as the endpoint and must be registered before ProcessOffer.
	OnCandidate(fn func(Candidate))
	// AddCandidate submits a remote candidate to the endpoint.
	AddCandidate(candidate Candidate) error
	Release()
}
