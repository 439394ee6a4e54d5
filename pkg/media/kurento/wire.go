package kurento

import (
	"github.com/goccy/go-json"
	"github.com/solser12/kurento/pkg/media"
)

const (
	typeMediaPipeline  = "MediaPipeline"
	typeWebRtcEndpoint = "WebRtcEndpoint"

	opProcessOffer     = "processOffer"
	opGatherCandidates = "gatherCandidates"
	opAddIceCandidate  = "addIceCandidate"
	opConnect          = "connect"
	iceCandidateFound  = "IceCandidateFound"
	onEventMethod      = "onEvent"
)

type request struct {
	Jsonrpc string  `json:"jsonrpc"`
	Id      uint64  `json:"id"`
	Method  string  `json:"method"`
	Params  *params `json:"params,omitempty"`
}

// params is the union of every request's parameters; empty fields
// are left off the wire.
type params struct {
	Type              string `json:"type,omitempty"`
	ConstructorParams any    `json:"constructorParams,omitempty"`
	Object            string `json:"object,omitempty"`
	Operation         string `json:"operation,omitempty"`
	OperationParams   any    `json:"operationParams,omitempty"`
	Interval          int64  `json:"interval,omitempty"`
	SessionId         string `json:"sessionId,omitempty"`
}

type response struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  *result         `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type result struct {
	Value     json.RawMessage `json:"value,omitempty"`
	SessionId string          `json:"sessionId,omitempty"`
}

func (r result) valueString() string {
	var s string
	_ = json.Unmarshal(r.Value, &s)
	return s
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type eventParams struct {
	Value struct {
		Data struct {
			Candidate media.Candidate `json:"candidate"`
			Source    string          `json:"source"`
			Type      string          `json:"type"`
		} `json:"data"`
		Object string `json:"object"`
		Type   string `json:"type"`
	} `json:"value"`
}
