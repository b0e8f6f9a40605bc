package store

import "sync"

// Collection names one logical collection of the local store.
type Collection string

const (
	Subscriptions Collection = "subscriptions"
	Notifications Collection = "notifications"
	Users         Collection = "users"
	Prefs         Collection = "prefs"
	PushTargets   Collection = "push_targets"
)

// AllCollections lists every collection, in no particular order.
var AllCollections = []Collection{Subscriptions, Notifications, Users, Prefs, PushTargets}

// Change is published after a successful write to a collection. ID is the
// affected record or empty for bulk writes.
type Change struct {
	Collection Collection
	ID         string
}

type observer struct {
	fn          func(Change)
	collections map[Collection]bool
}

// bus fans store changes out to registered observers. Observers are invoked
// synchronously on the writer's goroutine and must not block.
type bus struct {
	mu        sync.RWMutex
	next      int
	observers map[int]observer
}

func newBus() *bus {
	return &bus{observers: make(map[int]observer)}
}

func (b *bus) observe(fn func(Change), collections ...Collection) func() {
	if len(collections) == 0 {
		collections = AllCollections
	}
	o := observer{fn: fn, collections: make(map[Collection]bool, len(collections))}
	for _, c := range collections {
		o.collections[c] = true
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.observers[id] = o
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
		})
	}
}

func (b *bus) publish(changes ...Change) {
	b.mu.RLock()
	targets := make([]observer, 0, len(b.observers))
	for _, o := range b.observers {
		targets = append(targets, o)
	}
	b.mu.RUnlock()

	for _, c := range changes {
		for _, o := range targets {
			if o.collections[c.Collection] {
				o.fn(c)
			}
		}
	}
}
