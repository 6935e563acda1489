package server

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"webtrx/internal/session"
	"webtrx/internal/signal"
)

// Router relays p2p signaling between two member sessions. The body is
// passed through untouched except for the from rewrite; the server does
// not inspect p2p SDP or candidates.
type Router struct {
	log *zap.SugaredLogger
	reg *session.Registry
}

func NewRouter(log *zap.SugaredLogger, reg *session.Registry) *Router {
	return &Router{log: log, reg: reg}
}

// Relay forwards raw (already known to carry one of the p2p types) from
// sender to the session named by to. An unknown or observing target
// drops the message.
func (r *Router) Relay(from *session.Session, to string, raw []byte) error {
	target, ok := r.reg.Get(to)
	if !ok || target.IsObserver {
		return fmt.Errorf("relay target %q not found", to)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("relay body: %w", err)
	}
	body["from"] = from.ID

	out, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("relay body: %w", err)
	}
	target.SendRaw(out)
	r.log.Debugw("relayed p2p message",
		"type", body["type"], "from", from.ID, "to", to)
	return nil
}

// IsP2P reports whether a message type is client-to-client signaling.
func IsP2P(msgType string) bool {
	switch msgType {
	case signal.TypeP2POffer, signal.TypeP2PAnswer, signal.TypeP2PICECandidate:
		return true
	}
	return false
}
