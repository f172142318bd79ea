package internal

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"livecart/internal/storage"
)

// MaxChatLength caps a message, counted in characters after trimming.
const MaxChatLength = 1000

// chat:error codes
const (
	ChatErrUnauthorized = "UNAUTHORIZED"
	ChatErrBanned       = "BANNED"
	ChatErrTimeoutUntil = "TIMEOUT_UNTIL"
	ChatErrInternal     = "INTERNAL_ERROR"
)

// PenaltyStore is the persisted moderation state.
type PenaltyStore interface {
	ActivePenalty(ctx context.Context, userID string) (*storage.Penalty, error)
	ReplacePenalty(ctx context.Context, penalty storage.Penalty) error
	DeletePenalty(ctx context.Context, id string) error
	DeletePenalties(ctx context.Context, userID string) (int64, error)
}

// ChatMessage is broadcast with chat:new and never stored.
type ChatMessage struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Text     string `json:"text"`
	Ts       int64  `json:"ts"`
}

type chatError struct {
	Code  string `json:"code"`
	Until *int64 `json:"until"`
}

// ChatRelay broadcasts chat messages, refusing senders that are anonymous or
// under an active penalty.
type ChatRelay struct {
	penalties PenaltyStore
	hub       Broadcaster
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewChatRelay(penalties PenaltyStore, hub Broadcaster, metrics *Metrics, logger *slog.Logger) *ChatRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatRelay{penalties: penalties, hub: hub, metrics: metrics, logger: logger, now: time.Now}
}

// Send relays text from peer to everyone, the sender included. Refusals go
// back to the sender only as chat:error. An expired timeout is deleted on the
// way through.
func (relay *ChatRelay) Send(ctx context.Context, peer Peer, text string) {
	if peer.Identity == nil {
		relay.reject(peer.ID, ChatErrUnauthorized, nil)
		return
	}
	penalty, err := relay.penalties.ActivePenalty(ctx, peer.Identity.UserID)
	if err != nil {
		relay.logger.Error("penalty lookup failed", "user", peer.Identity.UserID, "error", err)
		relay.reject(peer.ID, ChatErrInternal, nil)
		return
	}
	if penalty != nil {
		now := relay.now()
		switch {
		case penalty.Kind == storage.PenaltyBan:
			relay.reject(peer.ID, ChatErrBanned, unixMillis(penalty.Until))
			return
		case !penalty.Expired(now):
			relay.reject(peer.ID, ChatErrTimeoutUntil, unixMillis(penalty.Until))
			return
		default:
			if err := relay.penalties.DeletePenalty(ctx, penalty.ID); err != nil {
				relay.logger.Error("delete expired timeout", "user", peer.Identity.UserID, "error", err)
				relay.reject(peer.ID, ChatErrInternal, nil)
				return
			}
		}
	}

	body := normalizeChatText(text)
	if body == "" {
		return
	}
	relay.hub.Publish(EventChatNew, ChatMessage{
		ID:       uuid.NewString(),
		UserID:   peer.Identity.UserID,
		Username: peer.Identity.Username,
		Role:     string(peer.Identity.Role),
		Text:     body,
		Ts:       relay.now().UnixMilli(),
	})
	relay.metrics.chatRelayed()
}

func (relay *ChatRelay) reject(connID string, code string, until *int64) {
	relay.metrics.chatRejected(code)
	relay.hub.SendTo(connID, EventChatError, chatError{Code: code, Until: until})
}

// normalizeChatText trims surrounding whitespace and keeps at most
// MaxChatLength characters.
func normalizeChatText(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= MaxChatLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxChatLength])
}
