package events

import (
	"sync"
)

// Subscriber receives every event emitted after Subscribe.
type Subscriber chan Event

// Broadcaster fans events out to live subscribers, primarily the
// websocket stream and the MQTT status publisher.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
}

var broadcaster = &Broadcaster{
	subscribers: make(map[Subscriber]struct{}),
}

// Subscribe adds a new subscriber and returns its channel. The channel
// is buffered so a slow consumer cannot stall Emit.
func Subscribe() Subscriber {
	ch := make(Subscriber, 64)
	broadcaster.mu.Lock()
	broadcaster.subscribers[ch] = struct{}{}
	broadcaster.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Calling it
// for a subscriber CloseAllSubscribers already dropped is a no-op, so
// websocket handlers can unsubscribe unconditionally on exit.
func Unsubscribe(sub Subscriber) {
	broadcaster.mu.Lock()
	_, live := broadcaster.subscribers[sub]
	delete(broadcaster.subscribers, sub)
	broadcaster.mu.Unlock()
	if live {
		close(sub)
	}
}

// broadcast delivers an event to every subscriber. Non-blocking: a
// subscriber whose buffer is full misses the event rather than holding
// up the execution loop behind it.
func broadcast(e Event) {
	broadcaster.mu.RLock()
	defer broadcaster.mu.RUnlock()

	for sub := range broadcaster.subscribers {
		select {
		case sub <- e:
		default:
		}
	}
}

// CloseAllSubscribers removes and closes every subscriber. Called on
// daemon shutdown so websocket writers unblock and exit.
func CloseAllSubscribers() {
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()

	for sub := range broadcaster.subscribers {
		close(sub)
	}
	broadcaster.subscribers = make(map[Subscriber]struct{})
}

// SubscriberCount returns the current number of subscribers.
func SubscriberCount() int {
	broadcaster.mu.RLock()
	defer broadcaster.mu.RUnlock()
	return len(broadcaster.subscribers)
}

// RecentEvents returns the last n buffered events, oldest first. n <= 0
// or beyond what is buffered returns everything available.
func RecentEvents(n int) []Event {
	all := buffer.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}
