package internal

import (
	"encoding/json"
	"testing"
)

func testClient(id string, backlog int) *Client {
	return &Client{id: id, send: make(chan []byte, backlog)}
}

func drain(t *testing.T, client *Client) []outboundFrameView {
	t.Helper()
	var frames []outboundFrameView
	for {
		select {
		case raw, ok := <-client.send:
			if !ok {
				return frames
			}
			var frame outboundFrameView
			if err := json.Unmarshal(raw, &frame); err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

type outboundFrameView struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func TestHubPublishReachesEveryone(t *testing.T) {
	hub := NewHub(discardLogger(), nil)
	a, b := testClient("a", 4), testClient("b", 4)
	hub.register(a)
	hub.register(b)

	hub.Publish(EventBroadcasterEnded, nil)

	for _, client := range []*Client{a, b} {
		frames := drain(t, client)
		if len(frames) != 1 || frames[0].Event != EventBroadcasterEnded {
			t.Fatalf("client %s got %+v", client.id, frames)
		}
		if string(frames[0].Data) != "null" {
			t.Fatalf("expected explicit null data, got %s", frames[0].Data)
		}
	}
}

func TestHubPublishExceptSkipsSender(t *testing.T) {
	hub := NewHub(discardLogger(), nil)
	a, b := testClient("a", 4), testClient("b", 4)
	hub.register(a)
	hub.register(b)

	hub.PublishExcept("a", EventBroadcaster, nil)

	if frames := drain(t, a); len(frames) != 0 {
		t.Fatalf("sender should be skipped, got %+v", frames)
	}
	if frames := drain(t, b); len(frames) != 1 || frames[0].Event != EventBroadcaster {
		t.Fatalf("unexpected frames for b: %+v", frames)
	}
}

func TestHubSendTo(t *testing.T) {
	hub := NewHub(discardLogger(), nil)
	a := testClient("a", 4)
	hub.register(a)

	if !hub.SendTo("a", EventWatcher, "w1") {
		t.Fatalf("expected delivery to a")
	}
	if hub.SendTo("ghost", EventWatcher, "w1") {
		t.Fatalf("expected false for unknown peer")
	}
	frames := drain(t, a)
	if len(frames) != 1 || string(frames[0].Data) != `"w1"` {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	metrics := NewMetrics()
	hub := NewHub(discardLogger(), metrics)
	slow := testClient("slow", 1)
	hub.register(slow)

	hub.Publish(EventChatNew, "one")
	hub.Publish(EventChatNew, "two")

	if hub.Connected("slow") {
		t.Fatalf("slow client should have been dropped")
	}
	if hub.unregister(slow) {
		t.Fatalf("unregister after drop should report false")
	}
	frames := drain(t, slow)
	if len(frames) != 1 {
		t.Fatalf("expected the first frame to survive, got %d", len(frames))
	}
}

func TestHubUnregisterAndClose(t *testing.T) {
	hub := NewHub(discardLogger(), nil)
	a, b := testClient("a", 1), testClient("b", 1)
	hub.register(a)
	hub.register(b)

	if !hub.unregister(a) {
		t.Fatalf("expected unregister to remove a")
	}
	if hub.Size() != 1 {
		t.Fatalf("expected one client left, got %d", hub.Size())
	}
	hub.Close()
	if hub.Size() != 0 {
		t.Fatalf("expected empty hub after Close")
	}
	if _, ok := <-b.send; ok {
		t.Fatalf("expected b's queue to be closed")
	}
}
