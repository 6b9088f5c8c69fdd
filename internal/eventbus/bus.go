// Package eventbus implements the typed publish/subscribe channel of
// spec.md §4.1: in-order delivery per publisher, each subscriber drained on
// its own strand rather than the publisher's goroutine. The shape mirrors
// github.com/ethereum/go-ethereum/event's Feed/Subscription pair (a
// send blocks until every current subscriber's channel has accepted the
// value, and Subscribe/Unsubscribe are safe to call concurrently with
// Send), adapted so each subscriber owns a bounded inbox instead of an
// unbuffered channel, which is what lets "subscriber returns unsubscribe"
// (spec.md §4.1 contract) be handled without blocking the publisher on a
// slow or misbehaving subscriber.
package eventbus

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/libbitcoin/libbitcoin-node-sub001/chase"
)

// Key identifies a subscription, returned by Subscribe and required by
// Unsubscribe (spec.md §9 "subscription creates a key and returns it").
type Key uint64

// Handler processes one event on the subscriber's own strand. Returning
// Unsubscribe removes the registration before the next event is delivered
// to it (spec.md §4.1 contract).
type Handler func(chase.Event) Disposition

// Disposition is the Handler's instruction to the bus about whether to
// keep the subscription alive.
type Disposition bool

const (
	Continue    Disposition = true
	Unsubscribe Disposition = false
)

const inboxSize = 256

type subscriber struct {
	key   Key
	tags  map[chase.Tag]struct{} // nil means "all tags"
	inbox chan chase.Event
	done  chan struct{}
}

// Bus is the shared typed event channel every chaser and protocol
// subscribes to. The zero value is not usable; construct with New.
type Bus struct {
	mu     sync.Mutex
	next   Key
	subs   map[Key]*subscriber
	logger log.Logger
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[Key]*subscriber),
		next:   1,
		logger: log.New("component", "eventbus"),
	}
}

// Subscribe registers handler for the given tags (or every tag, if tags is
// empty) and starts the subscriber's private strand goroutine. The
// returned Key is passed to Unsubscribe.
func (b *Bus) Subscribe(handler Handler, tags ...chase.Tag) Key {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := b.next
	b.next++

	var want map[chase.Tag]struct{}
	if len(tags) > 0 {
		want = make(map[chase.Tag]struct{}, len(tags))
		for _, t := range tags {
			want[t] = struct{}{}
		}
	}

	sub := &subscriber{
		key:   key,
		tags:  want,
		inbox: make(chan chase.Event, inboxSize),
		done:  make(chan struct{}),
	}
	b.subs[key] = sub

	go b.drain(sub, handler)
	return key
}

// Unsubscribe removes a subscription by key. Safe to call more than once.
func (b *Bus) Unsubscribe(key Key) {
	b.mu.Lock()
	sub, ok := b.subs[key]
	if ok {
		delete(b.subs, key)
	}
	b.mu.Unlock()
	if ok {
		close(sub.inbox)
		<-sub.done
	}
}

// drain is the subscriber's private strand: it processes its inbox
// strictly in the order Publish enqueued events, guaranteeing the
// per-publisher ordering contract of spec.md §4.1 ("Per chaser strand:
// event reception order preserves per-publisher order").
func (b *Bus) drain(sub *subscriber, handler Handler) {
	defer close(sub.done)
	for ev := range sub.inbox {
		if handler(ev) == Unsubscribe {
			// Remove the subscription here rather than through Unsubscribe,
			// which would wait on sub.done, closed only when this returns.
			b.mu.Lock()
			_, ok := b.subs[sub.key]
			delete(b.subs, sub.key)
			b.mu.Unlock()
			if ok {
				close(sub.inbox)
			}
			// Drain remaining queued events without invoking handler, so
			// the inbox channel can be garbage collected promptly.
			for range sub.inbox {
			}
			return
		}
	}
}

// Publish delivers ev to every subscriber registered for ev.Tag (or for
// all tags). Publish never blocks: when a subscriber's inbox is full (a
// stuck strand) the event is dropped for that subscriber and a warning is
// logged.
func (b *Bus) Publish(ev chase.Event) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.tags == nil {
			targets = append(targets, sub)
			continue
		}
		if _, ok := sub.tags[ev.Tag]; ok {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.inbox <- ev:
		default:
			b.logger.Warn("subscriber inbox full, dropping event",
				"tag", ev.Tag, "key", sub.key)
		}
	}
}

// PublishOne delivers ev to a single subscriber, used for targeted
// notifications such as chase.Split(peerID) (spec.md §4.3 "Starvation
// protocol").
func (b *Bus) PublishOne(key Key, ev chase.Event) {
	b.mu.Lock()
	sub, ok := b.subs[key]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case sub.inbox <- ev:
	default:
		b.logger.Warn("subscriber inbox full, dropping targeted event",
			"tag", ev.Tag, "key", key)
	}
}

// Count reports the number of live subscriptions, for diagnostics.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
