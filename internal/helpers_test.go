package internal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"livecart/internal/storage"
)

type recordedEvent struct {
	kind    string // publish, except, send
	conn    string
	event   string
	payload any
}

// recordingBroadcaster captures everything the relay components emit.
type recordingBroadcaster struct {
	mu      sync.Mutex
	events  []recordedEvent
	offline map[string]bool
}

func newRecorder() *recordingBroadcaster {
	return &recordingBroadcaster{offline: make(map[string]bool)}
}

func (r *recordingBroadcaster) Publish(event string, payload any) {
	r.record(recordedEvent{kind: "publish", event: event, payload: payload})
}

func (r *recordingBroadcaster) PublishExcept(connID string, event string, payload any) {
	r.record(recordedEvent{kind: "except", conn: connID, event: event, payload: payload})
}

func (r *recordingBroadcaster) SendTo(connID string, event string, payload any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline[connID] {
		return false
	}
	r.events = append(r.events, recordedEvent{kind: "send", conn: connID, event: event, payload: payload})
	return true
}

func (r *recordingBroadcaster) record(ev recordedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingBroadcaster) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func (r *recordingBroadcaster) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := storage.NewStore("sqlite://file:" + name + "?mode=memory&cache=shared")
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

func seedUser(t *testing.T, store *storage.Store, username string, role storage.Role) *Identity {
	t.Helper()
	id, err := store.CreateUser(context.Background(), username, []byte("unused"), role)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return &Identity{UserID: id, Username: username, Role: role}
}

func seedProduct(t *testing.T, store *storage.Store, name string, active bool) string {
	t.Helper()
	id, err := store.CreateProduct(context.Background(), storage.Product{
		Name:     name,
		Price:    49.99,
		Stock:    3,
		Images:   []string{"/img/" + storage.Slugify(name) + ".jpg"},
		IsActive: active,
	})
	if err != nil {
		t.Fatalf("CreateProduct(%s): %v", name, err)
	}
	return id
}

// asJSON round-trips a payload so tests can compare what peers would see.
func asJSON(t *testing.T, payload any) string {
	t.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(encoded)
}
