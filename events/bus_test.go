package events

import (
	"testing"
	"time"
)

func TestBus_FanOutInOrder(t *testing.T) {
	b := NewBus()
	var order []int
	b.Subscribe("t", func(string, any) { order = append(order, 1) })
	b.Subscribe("t", func(string, any) { order = append(order, 2) })
	b.Subscribe("other", func(string, any) { order = append(order, 99) })

	b.Emit("t", nil)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("delivery order = %v", order)
	}
}

func TestBus_DuplicateSubscriptions(t *testing.T) {
	b := NewBus()
	n := 0
	fn := func(string, any) { n++ }
	b.Subscribe("t", fn)
	b.Subscribe("t", fn)

	b.Emit("t", nil)
	if n != 2 {
		t.Errorf("duplicate subscriber fired %d times, want 2", n)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	n := 0
	unsub := b.Subscribe("t", func(string, any) { n++ })
	kept := 0
	b.Subscribe("t", func(string, any) { kept++ })

	unsub()
	unsub() // idempotent
	b.Emit("t", nil)

	if n != 0 {
		t.Errorf("unsubscribed handler fired %d times", n)
	}
	if kept != 1 {
		t.Errorf("remaining handler fired %d times, want 1", kept)
	}
}

func TestBus_WalletConnectionPayload(t *testing.T) {
	b := NewBus()
	var got WalletConnectionDetail
	b.Subscribe(TopicWalletConnection, func(topic string, payload any) {
		if topic != TopicWalletConnection {
			t.Errorf("topic = %q", topic)
		}
		got = payload.(WalletConnectionDetail)
	})

	now := time.Now()
	b.Emit(TopicWalletConnection, WalletConnectionDetail{Source: SourceGoogleOAuth, Timestamp: now})

	if got.Source != "google_oauth" {
		t.Errorf("source = %q", got.Source)
	}
	if !got.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v", got.Timestamp)
	}
}
