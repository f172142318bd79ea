package internal

import (
	"context"
	"encoding/json"
	"log/slog"

	"livecart/internal/storage"
)

// Identity is the server-verified account behind a connection.
type Identity struct {
	UserID   string
	Username string
	Role     storage.Role
}

// Peer is one live connection: its id and, when the handshake carried a
// valid session, who is behind it.
type Peer struct {
	ID       string
	Identity *Identity
}

// Session dispatches one connection's events to the relay components. Events
// are handled one at a time in arrival order.
type Session struct {
	peer       Peer
	hub        Broadcaster
	presence   *PresenceRegistry
	signaling  *SignalingRelay
	chat       *ChatRelay
	moderation *ModerationPolicy
	logger     *slog.Logger
}

func (s *Server) newSession(peer Peer) *Session {
	logger := s.logger.With("conn", peer.ID)
	if peer.Identity != nil {
		logger = logger.With("user", peer.Identity.UserID)
	}
	return &Session{
		peer:       peer,
		hub:        s.hub,
		presence:   s.presence,
		signaling:  s.signaling,
		chat:       s.chat,
		moderation: s.moderation,
		logger:     logger,
	}
}

// Hello is the first frame a peer receives: its connection id and, when
// signed in, the account behind it.
func (session *Session) Hello() helloPayload {
	hello := helloPayload{ID: session.peer.ID}
	if id := session.peer.Identity; id != nil {
		hello.User = &userInfo{ID: id.UserID, Username: id.Username, Role: string(id.Role)}
	}
	return hello
}

// Open catches a registered peer up on the broadcast. The highlight is looked
// up in the background, so a peer may see no highlight first and the product a
// moment later.
func (session *Session) Open(ctx context.Context) {
	broadcaster, highlighted := session.presence.Snapshot()
	if broadcaster != "" && broadcaster != session.peer.ID {
		session.hub.SendTo(session.peer.ID, EventBroadcaster, nil)
	}
	if highlighted != "" {
		go session.sendHighlight(ctx)
	}
}

func (session *Session) sendHighlight(ctx context.Context) {
	if err := session.presence.SendHighlight(ctx, session.peer.ID); err != nil {
		session.logger.Error("highlight lookup on connect", "error", err)
	}
}

// Dispatch decodes and handles one inbound frame. Malformed frames and unknown
// events are ignored; a panic inside a handler is contained to that event.
func (session *Session) Dispatch(ctx context.Context, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		session.logger.Debug("ignoring malformed frame", "error", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			session.logger.Error("event handler panicked", "event", frame.Event, "panic", r)
		}
	}()

	switch frame.Event {
	case EventBroadcaster:
		session.presence.SetBroadcaster(session.peer.ID)
	case EventWatcher:
		session.signaling.Watch(session.peer.ID)
	case EventOffer, EventAnswer, EventCandidate:
		var req signalRequest
		if !session.decode(frame, &req) {
			return
		}
		session.signaling.Forward(frame.Event, session.peer.ID, req.Target, req.Payload)
	case EventHighlightSelect:
		var productID string
		if !session.decode(frame, &productID) {
			return
		}
		if err := session.presence.SetHighlight(ctx, productID, session.peer.ID); err != nil {
			session.logger.Error("highlight select", "product", productID, "error", err)
		}
	case EventHighlightClear:
		session.presence.ClearHighlight(session.peer.ID)
	case EventChatSend:
		var text string
		if !session.decode(frame, &text) {
			return
		}
		session.chat.Send(ctx, session.peer, text)
	case EventChatTimeout, EventChatBan, EventChatUnban:
		var req moderationRequest
		if !session.decode(frame, &req) {
			return
		}
		switch frame.Event {
		case EventChatTimeout:
			session.moderation.Timeout(ctx, session.peer, req.UserID, req.Minutes)
		case EventChatBan:
			session.moderation.Ban(ctx, session.peer, req.UserID)
		default:
			session.moderation.Unban(ctx, session.peer, req.UserID)
		}
	default:
		session.logger.Debug("ignoring unknown event", "event", frame.Event)
	}
}

func (session *Session) decode(frame inboundFrame, out any) bool {
	if len(frame.Data) == 0 {
		session.logger.Debug("missing payload", "event", frame.Event)
		return false
	}
	if err := json.Unmarshal(frame.Data, out); err != nil {
		session.logger.Debug("bad payload", "event", frame.Event, "error", err)
		return false
	}
	return true
}

// Close releases the peer's share of the broadcast.
func (session *Session) Close() {
	session.signaling.Disconnect(session.peer.ID)
}
