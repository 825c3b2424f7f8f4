package models

// EventType names a signaling event on the wire
type EventType string

// Inbound events (client -> relay)
const (
	EventCall         EventType = "call"
	EventAnswerCall   EventType = "answerCall"
	EventICECandidate EventType = "ICEcandidate"
	EventEndCall      EventType = "endCall"
)

// Outbound events (relay -> client). ICEcandidate keeps its inbound name.
const (
	EventNewCall      EventType = "newCall"
	EventCallAnswered EventType = "callAnswered"
)

// InboundFrame is a client frame. Data carries the union of the inbound
// payload shapes; fields an event does not use are left empty.
type InboundFrame struct {
	Event EventType   `json:"event" msgpack:"event"`
	Data  InboundData `json:"data" msgpack:"data"`
}

// InboundData holds the fields of call, answerCall and ICEcandidate
type InboundData struct {
	CalleeID   string     `json:"calleeId,omitempty" msgpack:"calleeId,omitempty"`
	CallerID   string     `json:"callerId,omitempty" msgpack:"callerId,omitempty"`
	RTCMessage *RTCMessage `json:"rtcMessage,omitempty" msgpack:"rtcMessage,omitempty"`
}

// OutboundFrame is a relay frame delivered to a target identity
type OutboundFrame struct {
	Event EventType   `json:"event" msgpack:"event"`
	Data  interface{} `json:"data,omitempty" msgpack:"data,omitempty"`
}

// NewCallPayload is forwarded to the callee of a call event
type NewCallPayload struct {
	CallerID   string     `json:"callerId" msgpack:"callerId"`
	RTCMessage *RTCMessage `json:"rtcMessage,omitempty" msgpack:"rtcMessage,omitempty"`
}

// CallAnsweredPayload is forwarded to the caller of an answerCall event
type CallAnsweredPayload struct {
	Callee     string     `json:"callee" msgpack:"callee"`
	RTCMessage *RTCMessage `json:"rtcMessage,omitempty" msgpack:"rtcMessage,omitempty"`
}

// ICECandidatePayload is forwarded to the peer of an ICEcandidate event
type ICECandidatePayload struct {
	Sender     string     `json:"sender" msgpack:"sender"`
	RTCMessage *RTCMessage `json:"rtcMessage,omitempty" msgpack:"rtcMessage,omitempty"`
}
