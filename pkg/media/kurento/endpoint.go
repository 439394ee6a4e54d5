package kurento

import (
	"context"
	"fmt"

	"github.com/solser12/kurento/pkg/media"
)

// CreatePipeline allocates a new MediaPipeline on the media server.
func (c *Client) CreatePipeline(ctx context.Context) (media.Pipeline, error) {
	res, err := c.call(ctx, "create", params{Type: typeMediaPipeline, ConstructorParams: struct{}{}})
	if err != nil {
		return nil, err
	}
	return &pipeline{c: c, id: res.valueString()}, nil
}

type pipeline struct {
	c  *Client
	id string
}

func (p *pipeline) CreateEndpoint(ctx context.Context) (media.Endpoint, error) {
	res, err := p.c.call(ctx, "create", params{
		Type:              typeWebRtcEndpoint,
		ConstructorParams: map[string]string{"mediaPipeline": p.id},
	})
	if err != nil {
		return nil, err
	}
	e := &endpoint{c: p.c, id: res.valueString()}
	// event delivery is per-object, subscribe right away so no
	// candidate discovered by the server is lost
	if _, err = p.c.call(ctx, "subscribe", params{Object: e.id, Type: iceCandidateFound}); err != nil {
		e.Release()
		return nil, err
	}
	return e, nil
}

func (p *pipeline) Release() {
	ctx, cancel := releaseContext(p.c.timeout)
	defer cancel()
	if _, err := p.c.call(ctx, "release", params{Object: p.id}); err != nil {
		p.c.log.Warn().Err(err).Msgf("pipeline %v release fail", p.id)
	}
}

type endpoint struct {
	c  *Client
	id string
}

func (e *endpoint) Connect(sink media.Endpoint) error {
	other, ok := sink.(*endpoint)
	if !ok {
		return fmt.Errorf("kurento: can't connect a foreign endpoint %T", sink)
	}
	ctx, cancel := releaseContext(e.c.timeout)
	defer cancel()
	_, err := e.c.call(ctx, "invoke", params{
		Object:          e.id,
		Operation:       opConnect,
		OperationParams: map[string]string{"sink": other.id},
	})
	return err
}

func (e *endpoint) ProcessOffer(ctx context.Context, sdpOffer string) (string, error) {
	res, err := e.c.call(ctx, "invoke", params{
		Object:          e.id,
		Operation:       opProcessOffer,
		OperationParams: map[string]string{"offer": sdpOffer},
	})
	if err != nil {
		return "", err
	}
	return res.valueString(), nil
}

func (e *endpoint) GatherCandidates() error {
	ctx, cancel := releaseContext(e.c.timeout)
	defer cancel()
	_, err := e.c.call(ctx, "invoke", params{Object: e.id, Operation: opGatherCandidates})
	return err
}

func (e *endpoint) OnCandidate(fn func(media.Candidate)) { e.c.subscribeCandidates(e.id, fn) }

func (e *endpoint) AddCandidate(candidate media.Candidate) error {
	ctx, cancel := releaseContext(e.c.timeout)
	defer cancel()
	_, err := e.c.call(ctx, "invoke", params{
		Object:          e.id,
		Operation:       opAddIceCandidate,
		OperationParams: map[string]any{"candidate": candidate},
	})
	return err
}

func (e *endpoint) Release() {
	e.c.unsubscribe(e.id)
	ctx, cancel := releaseContext(e.c.timeout)
	defer cancel()
	if _, err := e.c.call(ctx, "release", params{Object: e.id}); err != nil {
		e.c.log.Warn().Err(err).Msgf("endpoint %v release fail", e.id)
	}
}
