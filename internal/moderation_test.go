package internal

import (
	"context"
	"math"
	"testing"
	"time"

	"livecart/internal/storage"
)

func newTestModeration(t *testing.T) (*ModerationPolicy, *recordingBroadcaster, *storage.Store) {
	t.Helper()
	store := newTestStore(t)
	rec := newRecorder()
	return NewModerationPolicy(store, store, rec, NewMetrics(), discardLogger()), rec, store
}

func minutes(v float64) *float64 { return &v }

func TestTimeoutDuration(t *testing.T) {
	cases := []struct {
		name string
		in   *float64
		want time.Duration
	}{
		{"missing", nil, 5 * time.Minute},
		{"nan", minutes(math.NaN()), 5 * time.Minute},
		{"inf", minutes(math.Inf(1)), 5 * time.Minute},
		{"plain", minutes(10), 10 * time.Minute},
		{"fractional", minutes(0.5), 30 * time.Second},
		{"below floor", minutes(0), time.Second},
		{"negative", minutes(-3), time.Second},
		{"above ceiling", minutes(100000), 30 * 24 * time.Hour},
	}
	for _, tc := range cases {
		if got := TimeoutDuration(tc.in); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestModerationIgnoresRegularUsers(t *testing.T) {
	policy, rec, store := newTestModeration(t)
	ctx := context.Background()
	alice := seedUser(t, store, "alice", storage.RoleUser)
	bob := seedUser(t, store, "bob", storage.RoleUser)
	actor := Peer{ID: "c1", Identity: alice}

	policy.Timeout(ctx, actor, bob.UserID, minutes(5))
	policy.Ban(ctx, actor, bob.UserID)
	policy.Unban(ctx, actor, bob.UserID)
	policy.Ban(ctx, Peer{ID: "anon"}, bob.UserID)

	if events := rec.all(); len(events) != 0 {
		t.Fatalf("expected silence, got %+v", events)
	}
	penalty, err := store.ActivePenalty(ctx, bob.UserID)
	if err != nil || penalty != nil {
		t.Fatalf("no penalty expected, got %+v err=%v", penalty, err)
	}
}

func TestModerationIgnoresUnknownTarget(t *testing.T) {
	policy, rec, store := newTestModeration(t)
	seller := seedUser(t, store, "shop", storage.RoleSeller)

	policy.Timeout(context.Background(), Peer{ID: "c1", Identity: seller}, "no-such-user", nil)
	policy.Ban(context.Background(), Peer{ID: "c1", Identity: seller}, "  ")

	if events := rec.all(); len(events) != 0 {
		t.Fatalf("expected silence, got %+v", events)
	}
}

func TestTimeoutPersistsAndAnnounces(t *testing.T) {
	policy, rec, store := newTestModeration(t)
	ctx := context.Background()
	seller := seedUser(t, store, "shop", storage.RoleSeller)
	bob := seedUser(t, store, "bob", storage.RoleUser)
	now := time.UnixMilli(1_700_000_000_000)
	policy.now = func() time.Time { return now }

	policy.Timeout(ctx, Peer{ID: "c1", Identity: seller}, bob.UserID, minutes(10))

	penalty, err := store.ActivePenalty(ctx, bob.UserID)
	if err != nil || penalty == nil {
		t.Fatalf("expected penalty, got %+v err=%v", penalty, err)
	}
	wantUntil := now.Add(10 * time.Minute).UnixMilli()
	if penalty.Kind != storage.PenaltyTimeout || penalty.Until == nil || penalty.Until.UnixMilli() != wantUntil || penalty.CreatedBy != seller.UserID {
		t.Fatalf("unexpected penalty %+v", penalty)
	}
	events := rec.all()
	if len(events) != 1 || events[0].kind != "publish" || events[0].event != EventModTimeout {
		t.Fatalf("unexpected events: %+v", events)
	}
	notice := events[0].payload.(moderationNotice)
	if notice.UserID != bob.UserID || notice.Until == nil || *notice.Until != wantUntil {
		t.Fatalf("unexpected notice %+v", notice)
	}
}

func TestBanReplacesTimeout(t *testing.T) {
	policy, rec, store := newTestModeration(t)
	ctx := context.Background()
	admin := seedUser(t, store, "root", storage.RoleAdmin)
	bob := seedUser(t, store, "bob", storage.RoleUser)
	actor := Peer{ID: "c1", Identity: admin}

	policy.Timeout(ctx, actor, bob.UserID, nil)
	policy.Ban(ctx, actor, bob.UserID)

	penalties, err := store.ListPenalties(ctx)
	if err != nil {
		t.Fatalf("ListPenalties: %v", err)
	}
	if len(penalties) != 1 || penalties[0].Kind != storage.PenaltyBan || penalties[0].Until != nil {
		t.Fatalf("expected a single ban, got %+v", penalties)
	}
	events := rec.all()
	if len(events) != 2 || events[1].event != EventModBan {
		t.Fatalf("unexpected events: %+v", events)
	}
	if got := asJSON(t, events[1].payload); got != `{"userId":"`+bob.UserID+`","until":null}` {
		t.Fatalf("unexpected ban notice %s", got)
	}
}

func TestUnbanClearsEverything(t *testing.T) {
	policy, rec, store := newTestModeration(t)
	ctx := context.Background()
	seller := seedUser(t, store, "shop", storage.RoleSeller)
	bob := seedUser(t, store, "bob", storage.RoleUser)
	actor := Peer{ID: "c1", Identity: seller}

	policy.Ban(ctx, actor, bob.UserID)
	rec.reset()
	policy.Unban(ctx, actor, bob.UserID)

	penalty, err := store.ActivePenalty(ctx, bob.UserID)
	if err != nil || penalty != nil {
		t.Fatalf("expected no penalty, got %+v err=%v", penalty, err)
	}
	events := rec.all()
	if len(events) != 1 || events[0].event != EventModUnban {
		t.Fatalf("unexpected events: %+v", events)
	}

	// unban of an account that no longer exists still goes through
	rec.reset()
	policy.Unban(ctx, actor, "deleted-account")
	if events := rec.all(); len(events) != 1 || events[0].event != EventModUnban {
		t.Fatalf("unexpected events: %+v", events)
	}
}
