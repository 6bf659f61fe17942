package sse

import (
	"strings"
	"testing"
)

func TestPublishReachesTopicSubscribersOnce(t *testing.T) {
	h := NewHub()
	admin, stopAdmin := h.Subscribe(TopicAdmins, UserTopic("u-admin"))
	defer stopAdmin()
	client, stopClient := h.Subscribe(UserTopic("u-client"))
	defer stopClient()

	if err := h.Publish(Event{Name: "message", Data: map[string]string{"threadId": "t1"}}, TopicAdmins, UserTopic("u-admin")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case frame := <-admin:
		if !strings.HasPrefix(string(frame), "event: message\ndata: {\"threadId\":\"t1\"}") {
			t.Fatalf("frame = %q", frame)
		}
	default:
		t.Fatal("admin did not receive the event")
	}
	select {
	case frame := <-admin:
		t.Fatalf("duplicate delivery: %q", frame)
	default:
	}
	select {
	case frame := <-client:
		t.Fatalf("client received foreign event: %q", frame)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch, stop := h.Subscribe(TopicAdmins)
	stop()
	stop()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	if err := h.Publish(Event{Name: "sync", Data: 1}, TopicAdmins); err != nil {
		t.Fatalf("Publish after unsubscribe: %v", err)
	}
}
