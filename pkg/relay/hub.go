package relay

import (
	"context"
	"errors"
	"net/http"

	"github.com/solser12/kurento/pkg/api"
	"github.com/solser12/kurento/pkg/logger"
	"github.com/solser12/kurento/pkg/media"
	"github.com/solser12/kurento/pkg/network/websocket"
	"github.com/solser12/kurento/pkg/signal"
)

// Hub owns the registry and the signaling handler, and turns every
// /call websocket connection into a participant session.
type Hub struct {
	log     *logger.Logger
	reg     *signal.Registry
	handler *signal.Handler
}

func NewHub(svc media.Service, log *logger.Logger) *Hub {
	reg := signal.NewRegistry()
	return &Hub{
		log:     log,
		reg:     reg,
		handler: signal.NewHandler(reg, svc, log),
	}
}

// handleClientConnection runs for the whole lifetime of one participant:
// upgrade, per-message dispatch, teardown on disconnect.
func (h *Hub) handleClientConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.NewServer(w, r, h.log)
	if err != nil {
		h.log.Error().Err(err).Msg("socket upgrade fail")
		return
	}
	id := conn.Id
	session := signal.NewSession(id, &channel{conn: conn}, h.log)
	h.log.Info().Msgf("%v connected", id.Short())
	sessionsGauge.Inc()

	// the transport pins each message of the channel to arrival order,
	// so the handler sees one message of this session at a time
	ctx := context.Background()
	conn.OnMessage = func(message []byte, err error) {
		if err != nil {
			return
		}
		in, err := api.Unmarshal(message)
		if err != nil {
			h.log.Warn().Err(err).Msgf("%v broken frame", id.Short())
			return
		}
		// unknown ids are folded, label values come from the client
		switch in.Id {
		case api.Presenter, api.Viewer, api.OnIceCandidate, api.Stop:
			messagesCounter.WithLabelValues(in.Id).Inc()
		default:
			messagesCounter.WithLabelValues("unknown").Inc()
		}
		h.handler.Handle(ctx, session, in)
		viewersGauge.Set(float64(len(h.reg.Viewers())))
	}
	conn.Listen()

	<-conn.Done
	h.handler.Disconnect(session)
	sessionsGauge.Dec()
	viewersGauge.Set(float64(len(h.reg.Viewers())))
	h.log.Info().Msgf("%v disconnected", id.Short())
}

var errChannelClosed = errors.New("channel closed")

// channel adapts a websocket connection to the signal.Channel contract.
// The socket's writer pump serializes frames, so concurrent pushes and
// responses never interleave.
type channel struct {
	conn *websocket.WS
}

func (c *channel) Send(out api.Out) error {
	if out.Response == api.Rejected {
		rejectionsCounter.WithLabelValues(out.Id).Inc()
	}
	data, err := out.Marshal()
	if err != nil {
		return err
	}
	if !c.conn.Write(data) {
		return errChannelClosed
	}
	return nil
}
