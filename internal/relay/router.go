package relay

import (
	"github.com/mossy-p/call-relay/internal/metrics"
	"github.com/mossy-p/call-relay/internal/models"
)

// routeCall forwards a call offer to the callee as newCall.
func (h *Hub) routeCall(req *Request) {
	caller := req.From.Identity
	h.logger.Info("calling", "identity", caller, "callee", req.Data.CalleeID)
	h.deliver(req.Data.CalleeID, req.From, &models.OutboundFrame{
		Event: models.EventNewCall,
		Data: models.NewCallPayload{
			CallerID:   caller,
			RTCMessage: req.Data.RTCMessage,
		},
	})
}

// routeAnswer forwards an answer back to the caller as callAnswered.
func (h *Hub) routeAnswer(req *Request) {
	callee := req.From.Identity
	h.logger.Info("answered call", "identity", callee, "caller", req.Data.CallerID)
	delivered := h.deliver(req.Data.CallerID, req.From, &models.OutboundFrame{
		Event: models.EventCallAnswered,
		Data: models.CallAnsweredPayload{
			Callee:     callee,
			RTCMessage: req.Data.RTCMessage,
		},
	})

	// Only a delivered answer starts records, so each belongs to a
	// registered identity.
	if h.opts.TrackCallDuration && delivered > 0 {
		h.beginCall(callee)
		h.beginCall(req.Data.CallerID)
	}
}

// routeICECandidate forwards a connectivity candidate to the peer.
func (h *Hub) routeICECandidate(req *Request) {
	sender := req.From.Identity
	h.logger.Debug("sending ICE candidate", "identity", sender, "peer", req.Data.CalleeID)
	h.deliver(req.Data.CalleeID, req.From, &models.OutboundFrame{
		Event: models.EventICECandidate,
		Data: models.ICECandidatePayload{
			Sender:     sender,
			RTCMessage: req.Data.RTCMessage,
		},
	})
}

func (h *Hub) beginCall(identity string) {
	if h.tracker.Begin(identity) {
		h.metrics.Inc(metrics.CallsStarted)
	}
}

// deliver queues frame on every connection of target except from. Delivery
// is best effort: an offline target or a full send buffer drops the frame.
func (h *Hub) deliver(target string, from *Client, frame *models.OutboundFrame) int {
	delivered := 0
	for _, c := range h.registry.Lookup(target) {
		if c == from {
			continue
		}
		select {
		case c.Send <- frame:
			delivered++
			h.metrics.Inc(metrics.MessagesForwarded)
		default:
			h.metrics.Inc(metrics.DropSendBufferFull)
			h.logger.Warn("send buffer full, dropping frame", "identity", c.Identity, "conn_id", c.ID, "event", frame.Event)
		}
	}
	if delivered == 0 && !h.registry.Online(target) {
		h.metrics.Inc(metrics.DropTargetOffline)
		h.logger.Debug("target not connected, dropping frame", "target", target, "event", frame.Event)
	}
	return delivered
}
