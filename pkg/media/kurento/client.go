// Package kurento talks JSON-RPC 2.0 to a Kurento Media Server over a
// persistent websocket and exposes it as a media.Service.
package kurento

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/solser12/kurento/pkg/logger"
	"github.com/solser12/kurento/pkg/media"
	"github.com/solser12/kurento/pkg/network/websocket"
)

const pingInterval = 4 * time.Minute

var (
	errConnClosed = errors.New("kurento connection closed")
	errTimeout    = errors.New("kurento call timeout")
)

type Client struct {
	conn    *websocket.WS
	log     *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	seq     uint64
	queue   map[uint64]*call
	subs    map[string]func(media.Candidate)
	session string
	closed  bool

	done chan struct{}
}

type call struct {
	done   chan struct{}
	err    error
	result result
}

// NewClient dials the media server and starts the keepalive loop.
func NewClient(address string, timeout time.Duration, log *logger.Logger) (*Client, error) {
	lg := log.Extend(log.With().Str("c", "kms"))
	conn, err := websocket.NewClient(address, lg)
	if err != nil {
		return nil, fmt.Errorf("kurento: can't connect to %v: %w", address, err)
	}
	c := &Client{
		conn:    conn,
		log:     lg,
		timeout: timeout,
		queue:   make(map[uint64]*call, 4),
		subs:    make(map[string]func(media.Candidate), 8),
		done:    make(chan struct{}),
	}
	c.conn.OnMessage = c.handleMessage
	c.conn.Listen()
	go c.keepalive()
	go func() {
		<-c.conn.Done
		c.drain(errConnClosed)
	}()
	lg.Info().Msgf("connected to the media server at %v", address)
	return c, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	c.conn.Close()
}

func (c *Client) keepalive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := c.call(context.Background(), "ping", params{Interval: pingInterval.Milliseconds()}); err != nil {
				c.log.Warn().Err(err).Msg("keepalive fail")
			}
		case <-c.done:
			return
		}
	}
}

// call performs one blocking JSON-RPC exchange.
func (c *Client) call(ctx context.Context, method string, p params) (result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return result{}, errConnClosed
	}
	c.seq++
	id := c.seq
	p.SessionId = c.session
	rq := request{Jsonrpc: "2.0", Id: id, Method: method, Params: &p}
	task := &call{done: make(chan struct{})}
	c.queue[id] = task
	c.mu.Unlock()

	data, err := json.Marshal(&rq)
	if err != nil {
		c.pop(id)
		return result{}, err
	}
	if !c.conn.Write(data) {
		c.pop(id)
		return result{}, errConnClosed
	}

	select {
	case <-task.done:
	case <-ctx.Done():
		c.pop(id)
		return result{}, ctx.Err()
	case <-time.After(c.timeout):
		c.pop(id)
		return result{}, errTimeout
	}
	if task.err != nil {
		return result{}, task.err
	}
	if task.result.SessionId != "" {
		c.mu.Lock()
		c.session = task.result.SessionId
		c.mu.Unlock()
	}
	return task.result, nil
}

func (c *Client) handleMessage(message []byte, err error) {
	if err != nil {
		return
	}
	var res response
	if err = json.Unmarshal(message, &res); err != nil {
		c.log.Warn().Err(err).Msg("broken frame from the media server")
		return
	}
	// server-initiated notifications carry a method instead of an id
	if res.Method == onEventMethod {
		c.handleEvent(res.Params)
		return
	}
	if res.Id == nil {
		return
	}
	task := c.pop(*res.Id)
	if task == nil {
		c.log.Debug().Msgf("no pending call %v", *res.Id)
		return
	}
	if res.Error != nil {
		task.err = fmt.Errorf("kurento: %v (%v)", res.Error.Message, res.Error.Code)
	} else if res.Result != nil {
		task.result = *res.Result
	}
	close(task.done)
}

func (c *Client) handleEvent(raw json.RawMessage) {
	var ev eventParams
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.log.Warn().Err(err).Msg("broken event from the media server")
		return
	}
	if ev.Value.Type != iceCandidateFound {
		return
	}
	c.mu.Lock()
	fn := c.subs[ev.Value.Object]
	c.mu.Unlock()
	if fn != nil {
		fn(ev.Value.Data.Candidate)
	}
}

func (c *Client) subscribeCandidates(object string, fn func(media.Candidate)) {
	c.mu.Lock()
	c.subs[object] = fn
	c.mu.Unlock()
}

func (c *Client) unsubscribe(object string) {
	c.mu.Lock()
	delete(c.subs, object)
	c.mu.Unlock()
}

func (c *Client) pop(id uint64) *call {
	c.mu.Lock()
	defer c.mu.Unlock()
	task := c.queue[id]
	delete(c.queue, id)
	return task
}

// releaseContext bounds the calls made outside a request scope
// (releases, candidates, keepalive).
func releaseContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// drain cancels every pending call when the transport goes away.
func (c *Client) drain(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, task := range c.queue {
		task.err = err
		close(task.done)
		delete(c.queue, id)
	}
}
