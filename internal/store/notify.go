package store

import (
	"slices"
	"sync"
)

// notifier holds change listeners for a store. Mutations hold the commit
// lock from before they take the store lock until their listeners return,
// so notifications are delivered in commit order and listeners can still
// take read locks on the store.
type notifier struct {
	commit    sync.Mutex
	mu        sync.Mutex
	listeners []listener
	next      int
}

type listener struct {
	id int
	fn func()
}

func (n *notifier) subscribe(fn func()) func() {
	n.mu.Lock()
	id := n.next
	n.next++
	n.listeners = append(n.listeners, listener{id: id, fn: fn})
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.listeners = slices.DeleteFunc(n.listeners, func(l listener) bool { return l.id == id })
	}
}

func (n *notifier) fire() {
	n.mu.Lock()
	fns := make([]func(), len(n.listeners))
	for i, l := range n.listeners {
		fns[i] = l.fn
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (n *notifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = nil
}
