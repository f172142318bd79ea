package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, "alice", []byte("hash"), "")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated id")
	}
	if _, err := store.CreateUser(ctx, "alice", []byte("hash2"), RoleUser); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	user, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user == nil || user.Username != "alice" || user.Role != RoleUser {
		t.Fatalf("unexpected user: %+v", user)
	}
	byID, err := store.GetUserByID(ctx, id)
	if err != nil || byID == nil || byID.Username != "alice" {
		t.Fatalf("GetUserByID: %+v, err=%v", byID, err)
	}
	missing, err := store.GetUserByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil user for unknown id, got %+v, err=%v", missing, err)
	}
}

func TestUpdateRole(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id, _ := store.CreateUser(ctx, "bob", []byte("hash"), RoleUser)
	if err := store.UpdateRole(ctx, id, RoleSeller); err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	user, _ := store.GetUserByID(ctx, id)
	if user.Role != RoleSeller {
		t.Fatalf("expected seller, got %s", user.Role)
	}
	if err := store.UpdateRole(ctx, "missing", RoleAdmin); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	if role, err := ParseRole(" Admin "); err != nil || role != RoleAdmin {
		t.Fatalf("ParseRole admin: %q, %v", role, err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
	if RoleUser.CanModerate() || !RoleSeller.CanModerate() || !RoleAdmin.CanModerate() {
		t.Fatalf("unexpected moderation rights")
	}
}

func TestUsernamesByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", []byte("h"), RoleUser)
	bobID, _ := store.CreateUser(ctx, "bob", []byte("h"), RoleUser)
	names, err := store.UsernamesByID(ctx, []string{aliceID, bobID, "ghost"})
	if err != nil {
		t.Fatalf("UsernamesByID: %v", err)
	}
	if len(names) != 2 || names[aliceID] != "alice" || names[bobID] != "bob" {
		t.Fatalf("unexpected names: %+v", names)
	}
}

func TestProductLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id, err := store.CreateProduct(ctx, Product{
		Name:     "Zielona Łąka Mug",
		Price:    49.99,
		Stock:    3,
		Images:   []string{"/uploads/mug.jpg", "/uploads/mug-2.jpg"},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	product, err := store.GetProduct(ctx, id)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if product == nil {
		t.Fatalf("expected product")
	}
	if product.Currency != "PLN" || product.Stock != 3 || len(product.Images) != 2 || !product.IsActive {
		t.Fatalf("unexpected product: %+v", product)
	}
	if !strings.HasPrefix(product.Slug, "zielona-") || !strings.HasSuffix(product.Slug, "-mug") {
		t.Fatalf("unexpected slug %q", product.Slug)
	}
	if _, err := store.CreateProduct(ctx, Product{Name: "Other", Slug: product.Slug}); !errors.Is(err, ErrProductExists) {
		t.Fatalf("expected ErrProductExists, got %v", err)
	}
	missing, err := store.GetProduct(ctx, "missing")
	if err != nil || missing != nil {
		t.Fatalf("expected nil product, got %+v, err=%v", missing, err)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Hello World":        "hello-world",
		"  --Crème brûlée--": "creme-brulee",
		"ABC 123 / x":        "abc-123-x",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReplacePenaltyKeepsSingleRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	until := time.Now().Add(5 * time.Minute)

	if err := store.ReplacePenalty(ctx, Penalty{UserID: "u1", Kind: PenaltyBan, CreatedBy: "mod"}); err != nil {
		t.Fatalf("ReplacePenalty ban: %v", err)
	}
	if err := store.ReplacePenalty(ctx, Penalty{UserID: "u1", Kind: PenaltyTimeout, Until: &until, CreatedBy: "mod"}); err != nil {
		t.Fatalf("ReplacePenalty timeout: %v", err)
	}
	penalties, err := store.ListPenalties(ctx)
	if err != nil {
		t.Fatalf("ListPenalties: %v", err)
	}
	if len(penalties) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(penalties))
	}
	active, err := store.ActivePenalty(ctx, "u1")
	if err != nil {
		t.Fatalf("ActivePenalty: %v", err)
	}
	if active == nil || active.Kind != PenaltyTimeout || active.Until == nil {
		t.Fatalf("unexpected active penalty: %+v", active)
	}
	if active.Until.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until round trip: got %d want %d", active.Until.UnixMilli(), until.UnixMilli())
	}

	removed, err := store.DeletePenalties(ctx, "u1")
	if err != nil || removed != 1 {
		t.Fatalf("DeletePenalties: removed=%d err=%v", removed, err)
	}
	active, err = store.ActivePenalty(ctx, "u1")
	if err != nil || active != nil {
		t.Fatalf("expected no penalty, got %+v, err=%v", active, err)
	}
}

func TestListPenaltiesNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i, user := range []string{"u1", "u2", "u3"} {
		err := store.ReplacePenalty(ctx, Penalty{
			UserID:    user,
			Kind:      PenaltyBan,
			CreatedBy: "mod",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("ReplacePenalty %s: %v", user, err)
		}
	}
	penalties, err := store.ListPenalties(ctx)
	if err != nil {
		t.Fatalf("ListPenalties: %v", err)
	}
	if len(penalties) != 3 || penalties[0].UserID != "u3" || penalties[2].UserID != "u1" {
		t.Fatalf("unexpected order: %+v", penalties)
	}
	if penalties[0].Until != nil {
		t.Fatalf("ban must not carry an expiry")
	}
}

func TestPenaltyExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)
	if (&Penalty{Kind: PenaltyBan}).Expired(now) {
		t.Fatalf("ban never expires")
	}
	if !(&Penalty{Kind: PenaltyTimeout, Until: &past}).Expired(now) {
		t.Fatalf("past timeout should be expired")
	}
	if (&Penalty{Kind: PenaltyTimeout, Until: &future}).Expired(now) {
		t.Fatalf("future timeout should be active")
	}
}

func TestReplacePenaltyRollsBackOnInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	store := NewStoreWithDB(db)
	t.Cleanup(func() { _ = store.Close() })

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM chat_penalties").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO chat_penalties").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := store.ReplacePenalty(context.Background(), Penalty{UserID: "u1", Kind: PenaltyBan, CreatedBy: "mod"}); err == nil {
		t.Fatalf("expected insert error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}
