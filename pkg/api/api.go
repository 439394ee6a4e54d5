// Package api contains the signaling wire protocol of the relay.
// Messages are flat JSON objects discriminated by the id field.
package api

import (
	"github.com/goccy/go-json"
	"github.com/solser12/kurento/pkg/media"
)

// inbound ids
const (
	Presenter      = "presenter"
	Viewer         = "viewer"
	OnIceCandidate = "onIceCandidate"
	Stop           = "stop"
)

// outbound ids
const (
	PresenterResponse = "presenterResponse"
	ViewerResponse    = "viewerResponse"
	IceCandidate      = "iceCandidate"
	StopCommunication = "stopCommunication"
)

const (
	Accepted = "accepted"
	Rejected = "rejected"
)

// In is an inbound signaling message.
type In struct {
	Id        string           `json:"id"`
	SdpOffer  string           `json:"sdpOffer,omitempty"`
	JoinId    string           `json:"joinId,omitempty"`
	Candidate *media.Candidate `json:"candidate,omitempty"`
}

// Out is an outbound signaling message. Responses correlate to a request
// by their id; pushes (iceCandidate, stopCommunication) carry none.
type Out struct {
	Id        string           `json:"id"`
	Response  string           `json:"response,omitempty"`
	SdpAnswer string           `json:"sdpAnswer,omitempty"`
	Message   string           `json:"message,omitempty"`
	Candidate *media.Candidate `json:"candidate,omitempty"`
}

func Unmarshal(data []byte) (in In, err error) {
	err = json.Unmarshal(data, &in)
	return
}

func (o Out) Marshal() ([]byte, error) { return json.Marshal(o) }

func Accept(id string, sdpAnswer string) Out {
	return Out{Id: id, Response: Accepted, SdpAnswer: sdpAnswer}
}

func Reject(id string, message string) Out {
	return Out{Id: id, Response: Rejected, Message: message}
}

func NewIceCandidate(c media.Candidate) Out { return Out{Id: IceCandidate, Candidate: &c} }

func NewStopCommunication() Out { return Out{Id: StopCommunication} }
