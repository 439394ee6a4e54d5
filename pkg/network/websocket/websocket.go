package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/solser12/kurento/pkg/logger"
	"github.com/solser12/kurento/pkg/network"
)

const (
	maxMessageSize = 32 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
)

// WS wraps a websocket connection with the read and write pump goroutines.
// All writes go through the send channel, so concurrent senders never
// interleave frames on the wire.
type WS struct {
	Id   network.Uid
	conn deadlinedConn
	send chan []byte
	log  *logger.Logger

	OnMessage WSMessageHandler

	pingPong bool

	once     sync.Once
	shutdown *sync.WaitGroup
	Done     chan struct{}
}

type WSMessageHandler func(message []byte, err error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	WriteBufferPool: &sync.Pool{},
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Blocking, must be called as goroutine. Serializes all websocket reads.
func (ws *WS) reader() {
	defer func() {
		close(ws.send)
		ws.shutdown.Done()
		ws.close()
		ws.log.Debug().Msgf("%v [ws] close reader", ws.Id.Short())
	}()
	ws.conn.setup(func(conn *websocket.Conn) {
		conn.SetReadLimit(maxMessageSize)
		if ws.pingPong {
			_ = conn.SetReadDeadline(time.Now().Add(pongTime))
			conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(pongTime)); return nil })
		}
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				ws.log.Error().Err(err).Msgf("%v [ws] read fail", ws.Id.Short())
			}
			break
		}
		ws.log.Debug().Msgf("%v [ws] read: %v", ws.Id.Short(), string(message))
		ws.OnMessage(message, err)
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Blocking, must be called as goroutine. Serializes all websocket writes.
func (ws *WS) writer() {
	var ticker *time.Ticker
	if ws.pingPong {
		ticker = time.NewTicker(pingTime)
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
		ws.shutdown.Done()
		ws.close()
		ws.log.Debug().Msgf("%v [ws] close writer", ws.Id.Short())
	}()
	if ws.pingPong {
		for {
			select {
			case message, ok := <-ws.send:
				if !ws.handleMessage(message, ok) {
					return
				}
			case <-ticker.C:
				if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
	for message := range ws.send {
		if !ws.handleMessage(message, true) {
			return
		}
	}
	_ = ws.conn.write(websocket.CloseMessage, []byte{})
}

func (ws *WS) handleMessage(message []byte, ok bool) bool {
	if !ok {
		_ = ws.conn.write(websocket.CloseMessage, []byte{})
		return false
	}
	ws.log.Debug().Msgf("%v [ws] write: %v", ws.Id.Short(), string(message))
	if err := ws.conn.write(websocket.TextMessage, message); err != nil {
		return false
	}
	return true
}

// NewServer initializes a new server-side websocket connection.
func NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*WS, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, true, log), nil
}

func NewClient(address string, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address, nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, pingPong bool, log *logger.Logger) *WS {
	shut := sync.WaitGroup{}
	shut.Add(2)

	return &WS{
		Id:       network.NewUid(),
		conn:     deadlinedConn{sock: conn, wt: writeWait},
		send:     make(chan []byte),
		log:      log,
		pingPong: pingPong,
		shutdown: &shut,
		Done:     make(chan struct{}, 1),
	}
}

// Listen starts the pump goroutines. Call it once, after OnMessage is set.
func (ws *WS) Listen() {
	go ws.writer()
	go ws.reader()
}

// Write queues data for the writer goroutine.
// Returns false when the connection is already closed.
func (ws *WS) Write(data []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	ws.send <- data
	return true
}

func (ws *WS) Close() {
	_ = ws.conn.write(websocket.CloseMessage, []byte{})
	_ = ws.conn.close()
}

func (ws *WS) close() {
	ws.shutdown.Wait()
	_ = ws.conn.close()
	ws.once.Do(func() { close(ws.Done) })
}
