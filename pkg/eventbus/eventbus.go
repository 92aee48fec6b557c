// Package eventbus implements the in-process publish/subscribe fabric used
// for the plugin host's IPC trio (ipc_publish/ipc_subscribe/ipc_unsubscribe);
// those host calls are its only publishers and subscribers. It has no
// teacher analogue: Go's idiomatic channel-fan-out pattern stands in for
// whatever message-broker dependency a less Go-native design would reach
// for.
package eventbus

import (
	"fmt"
	"sync"
)

// MaxPayloadBytes bounds a single published message: the static
// per-message payload limit for plugin-host IPC.
const MaxPayloadBytes = 64 * 1024

// MaxSubscriptionsPerHandle bounds how many live subscriptions a single
// plugin instance may hold open at once.
const MaxSubscriptionsPerHandle = 32

// Handle identifies one subscription, handed back to the guest so it can
// later unsubscribe.
type Handle uint64

type subscription struct {
	topic string
	ch    chan []byte
}

// Bus is an in-process, topic-keyed publish/subscribe fabric. Publish never
// blocks on a slow subscriber: a full subscriber channel drops the message
// rather than stalling the publisher, matching the fire-and-forget contract
// implied by ipc_publish returning no acknowledgement.
type Bus struct {
	mu            sync.RWMutex
	subs          map[Handle]*subscription
	nextHandle    Handle
	perPluginSubs map[string]int
}

// New builds an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[Handle]*subscription), perPluginSubs: make(map[string]int)}
}

// Subscribe opens a subscription to topic for the given plugin instance,
// returning a handle and the channel messages arrive on. Enforces
// MaxSubscriptionsPerHandle per plugin instance.
func (b *Bus) Subscribe(pluginID, topic string) (Handle, <-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.perPluginSubs[pluginID] >= MaxSubscriptionsPerHandle {
		return 0, nil, fmt.Errorf("eventbus: plugin %s exceeded max subscriptions (%d)", pluginID, MaxSubscriptionsPerHandle)
	}

	b.nextHandle++
	h := b.nextHandle
	ch := make(chan []byte, 16)
	b.subs[h] = &subscription{topic: topic, ch: ch}
	b.perPluginSubs[pluginID]++
	return h, ch, nil
}

// Unsubscribe closes a subscription. Unknown handles are a no-op, matching
// the ABI table's "—" output for ipc_unsubscribe.
func (b *Bus) Unsubscribe(pluginID string, h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[h]
	if !ok {
		return
	}
	delete(b.subs, h)
	close(sub.ch)
	if b.perPluginSubs[pluginID] > 0 {
		b.perPluginSubs[pluginID]--
	}
}

// Publish fans payload out to every subscriber of topic. Returns an error if
// payload exceeds MaxPayloadBytes; otherwise always succeeds even if no
// subscriber is listening.
func (b *Bus) Publish(topic string, payload []byte) error {
	if len(payload) > MaxPayloadBytes {
		return fmt.Errorf("eventbus: payload of %d bytes exceeds limit of %d", len(payload), MaxPayloadBytes)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.topic != topic {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
	return nil
}
