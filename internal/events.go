package internal

import (
	"encoding/json"
	"time"
)

// wire event names
const (
	EventHello            = "hello"
	EventBroadcaster      = "broadcaster"
	EventWatcher          = "watcher"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventCandidate        = "candidate"
	EventDisconnectPeer   = "disconnectPeer"
	EventBroadcasterEnded = "broadcaster-ended"

	EventHighlightSelect = "highlight:select"
	EventHighlightClear  = "highlight:clear"
	EventHighlightUpdate = "highlight:update"

	EventChatSend  = "chat:send"
	EventChatNew   = "chat:new"
	EventChatError = "chat:error"

	EventChatTimeout = "chat:timeout"
	EventChatBan     = "chat:ban"
	EventChatUnban   = "chat:unban"

	EventModTimeout = "chat:mod:timeout"
	EventModBan     = "chat:mod:ban"
	EventModUnban   = "chat:mod:unban"
)

// inboundFrame is what clients send: an event name and an event-specific payload.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outboundFrame is what the server sends. Data is always present so that a
// cleared highlight is an explicit null.
type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	return json.Marshal(outboundFrame{Event: event, Data: payload})
}

// signalRequest is the client side of offer/answer/candidate.
type signalRequest struct {
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// signalRelay is what the target peer receives.
type signalRelay struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type moderationRequest struct {
	UserID  string   `json:"userId"`
	Minutes *float64 `json:"minutes,omitempty"`
}

type moderationNotice struct {
	UserID string `json:"userId"`
	Until  *int64 `json:"until"`
}

type helloPayload struct {
	ID   string    `json:"id"`
	User *userInfo `json:"user"`
}

type userInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func unixMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
