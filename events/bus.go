// Package events carries cross-component signals between the auth bridge
// and the rest of the application. The only producer in this module is the
// wallet-connection trigger fired after a successful sign-in; the consumer
// (the wallet-connect UI) lives outside this module.
package events

import (
	"sync"
	"time"
)

// TopicWalletConnection is emitted once per successful authentication to
// prompt the wallet-connect UI.
const TopicWalletConnection = "veralux:triggerWalletConnection"

// SourceGoogleOAuth identifies the Google OAuth flow as the origin of a
// wallet-connection trigger.
const SourceGoogleOAuth = "google_oauth"

// WalletConnectionDetail is the payload of a TopicWalletConnection event.
type WalletConnectionDetail struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives an emitted event.
type Handler func(topic string, payload any)

type subscriber struct {
	fn Handler
}

// Bus is a synchronous in-process publish/subscribe channel. Handlers run
// in subscription order on the emitting goroutine. Duplicate subscriptions
// are permitted and each receives the event.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

// Subscribe registers fn for topic and returns a disposer. The disposer is
// idempotent and removes only this subscription.
func (b *Bus) Subscribe(topic string, fn Handler) func() {
	s := &subscriber{fn: fn}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, cur := range list {
				if cur == s {
					b.subs[topic] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit delivers payload to every subscriber of topic, synchronously.
// Handlers registered or removed during delivery take effect for the next
// emit, not the current one.
func (b *Bus) Emit(topic string, payload any) {
	b.mu.Lock()
	list := make([]*subscriber, len(b.subs[topic]))
	copy(list, b.subs[topic])
	b.mu.Unlock()

	for _, s := range list {
		s.fn(topic, payload)
	}
}
