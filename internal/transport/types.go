// Package transport holds what the inbound transports share: the handler
// they feed and the mapping from an orchestrator outcome to a reply.
package transport

import (
	"context"
	"net/http"

	"joanabot/internal/conversation"
)

// Handler processes one inbound message.
type Handler interface {
	Handle(ctx context.Context, sender, text string) conversation.Outcome
}

type HandlerFunc func(ctx context.Context, sender, text string) conversation.Outcome

func (f HandlerFunc) Handle(ctx context.Context, sender, text string) conversation.Outcome {
	return f(ctx, sender, text)
}

// Inbound is the JSON body accepted by the HTTP and websocket transports.
type Inbound struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// Reply is the JSON envelope sent back for a visible outcome.
type Reply struct {
	Kind       string `json:"kind"`
	Reply      string `json:"reply"`
	Reason     string `json:"reason,omitempty"`
	IncidentID string `json:"incident_id,omitempty"`
}

// Render converts an outcome into a reply. ok is false when nothing must be
// sent back to the user.
func Render(o conversation.Outcome) (r Reply, ok bool) {
	if o.Kind == conversation.KindSilentReject || o.Reply == "" {
		return Reply{}, false
	}
	return Reply{Kind: string(o.Kind), Reply: o.Reply, Reason: o.Reason, IncidentID: o.IncidentID}, true
}

// HTTPStatus maps an outcome kind onto a response status.
func HTTPStatus(o conversation.Outcome) int {
	switch o.Kind {
	case conversation.KindSilentReject:
		return http.StatusNoContent
	case conversation.KindBadRequest:
		return http.StatusBadRequest
	case conversation.KindFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
