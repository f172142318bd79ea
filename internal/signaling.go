package internal

import (
	"encoding/json"
	"log/slog"
)

// SignalingRelay forwards WebRTC negotiation between the broadcaster and its
// watchers. Payloads are opaque; nothing is queued for absent peers.
type SignalingRelay struct {
	presence *PresenceRegistry
	hub      Broadcaster
	metrics  *Metrics
	logger   *slog.Logger
}

func NewSignalingRelay(presence *PresenceRegistry, hub Broadcaster, metrics *Metrics, logger *slog.Logger) *SignalingRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalingRelay{presence: presence, hub: hub, metrics: metrics, logger: logger}
}

// Watch pairs a watcher with the broadcaster by handing the broadcaster the
// watcher's id. Without a broadcaster the watcher gets a broadcaster
// announcement back, which its client treats as a cue to retry.
func (relay *SignalingRelay) Watch(watcherID string) {
	broadcaster := relay.presence.Broadcaster()
	if broadcaster == "" {
		relay.hub.SendTo(watcherID, EventBroadcaster, nil)
		return
	}
	relay.hub.SendTo(broadcaster, EventWatcher, watcherID)
}

// Forward delivers an offer, answer or candidate to target, tagged with the
// sender's id. Returns false when the target is not connected.
func (relay *SignalingRelay) Forward(kind string, from string, target string, payload json.RawMessage) bool {
	if target == "" {
		relay.metrics.signal(kind, false)
		return false
	}
	delivered := relay.hub.SendTo(target, kind, signalRelay{From: from, Payload: payload})
	relay.metrics.signal(kind, delivered)
	if !delivered {
		relay.logger.Debug("signal dropped", "kind", kind, "from", from, "target", target)
	}
	return delivered
}

// Disconnect releases whatever the leaving peer held: the broadcast itself, or
// one watcher pairing on the broadcaster's side.
func (relay *SignalingRelay) Disconnect(connID string) {
	if relay.presence.ClearBroadcaster(connID) {
		return
	}
	if broadcaster := relay.presence.Broadcaster(); broadcaster != "" {
		relay.hub.SendTo(broadcaster, EventDisconnectPeer, connID)
	}
}
