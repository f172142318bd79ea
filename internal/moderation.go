package internal

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"livecart/internal/storage"
)

// Accounts resolves persisted users; roles come from here, never from clients.
type Accounts interface {
	GetUserByID(ctx context.Context, id string) (*storage.User, error)
}

const (
	defaultTimeoutMinutes = 5.0
	minTimeoutMinutes     = 1.0 / 60
	maxTimeoutMinutes     = 43200.0
)

// ModerationPolicy applies timeout/ban/unban commands from admins and sellers.
// Commands from anyone else, or against unknown users, are dropped without a
// reply so probing clients learn nothing about roles.
type ModerationPolicy struct {
	penalties PenaltyStore
	accounts  Accounts
	hub       Broadcaster
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewModerationPolicy(penalties PenaltyStore, accounts Accounts, hub Broadcaster, metrics *Metrics, logger *slog.Logger) *ModerationPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModerationPolicy{
		penalties: penalties,
		accounts:  accounts,
		hub:       hub,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// TimeoutDuration turns the requested minutes into a duration within
// [1 second, 30 days]. A missing or non-finite value means five minutes.
func TimeoutDuration(minutes *float64) time.Duration {
	value := defaultTimeoutMinutes
	if minutes != nil && !math.IsNaN(*minutes) && !math.IsInf(*minutes, 0) {
		value = *minutes
	}
	value = math.Min(math.Max(value, minTimeoutMinutes), maxTimeoutMinutes)
	return time.Duration(math.Round(value * float64(time.Minute)))
}

// Timeout mutes the target until now+minutes, replacing any earlier penalty.
func (policy *ModerationPolicy) Timeout(ctx context.Context, actor Peer, targetUserID string, minutes *float64) {
	target, ok := policy.authorizeTarget(ctx, actor, targetUserID)
	if !ok {
		return
	}
	until := time.UnixMilli(policy.now().Add(TimeoutDuration(minutes)).UnixMilli())
	err := policy.penalties.ReplacePenalty(ctx, storage.Penalty{
		UserID:    target,
		Kind:      storage.PenaltyTimeout,
		Until:     &until,
		CreatedBy: actor.Identity.UserID,
		CreatedAt: policy.now(),
	})
	if err != nil {
		policy.logger.Error("apply timeout", "target", target, "actor", actor.Identity.UserID, "error", err)
		return
	}
	policy.metrics.moderation("timeout")
	policy.logger.Info("user timed out", "target", target, "actor", actor.Identity.UserID, "until", until)
	policy.hub.Publish(EventModTimeout, moderationNotice{UserID: target, Until: unixMillis(&until)})
}

// Ban silences the target permanently, replacing any earlier penalty.
func (policy *ModerationPolicy) Ban(ctx context.Context, actor Peer, targetUserID string) {
	target, ok := policy.authorizeTarget(ctx, actor, targetUserID)
	if !ok {
		return
	}
	err := policy.penalties.ReplacePenalty(ctx, storage.Penalty{
		UserID:    target,
		Kind:      storage.PenaltyBan,
		CreatedBy: actor.Identity.UserID,
		CreatedAt: policy.now(),
	})
	if err != nil {
		policy.logger.Error("apply ban", "target", target, "actor", actor.Identity.UserID, "error", err)
		return
	}
	policy.metrics.moderation("ban")
	policy.logger.Info("user banned", "target", target, "actor", actor.Identity.UserID)
	policy.hub.Publish(EventModBan, moderationNotice{UserID: target})
}

// Unban removes every penalty for the target. The target need not still
// exist, so records for deleted accounts can be cleaned up.
func (policy *ModerationPolicy) Unban(ctx context.Context, actor Peer, targetUserID string) {
	target := strings.TrimSpace(targetUserID)
	if !canModerate(actor) || target == "" {
		return
	}
	if _, err := policy.penalties.DeletePenalties(ctx, target); err != nil {
		policy.logger.Error("unban", "target", target, "actor", actor.Identity.UserID, "error", err)
		return
	}
	policy.metrics.moderation("unban")
	policy.logger.Info("user unbanned", "target", target, "actor", actor.Identity.UserID)
	policy.hub.Publish(EventModUnban, moderationNotice{UserID: target})
}

func (policy *ModerationPolicy) authorizeTarget(ctx context.Context, actor Peer, targetUserID string) (string, bool) {
	target := strings.TrimSpace(targetUserID)
	if !canModerate(actor) || target == "" {
		return "", false
	}
	user, err := policy.accounts.GetUserByID(ctx, target)
	if err != nil {
		policy.logger.Error("moderation target lookup", "target", target, "error", err)
		return "", false
	}
	if user == nil {
		return "", false
	}
	return user.ID, true
}

func canModerate(actor Peer) bool {
	return actor.Identity != nil && actor.Identity.Role.CanModerate()
}
