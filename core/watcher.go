// Package core implements the tools shared by the core components.
package core

import (
	"context"
	"sync"
)

// Observer is the interface to implement to watch events.
type Observer interface {
	NotifyCallback(event interface{})
}

// Observable provides primitives to add and remove observers and to notify
// them of new events.
type Observable interface {
	// Add adds the observer to the list of observers that will be notified of
	// new events.
	Add(observer Observer)

	// Remove removes the observer from the list thus stopping it from receiving
	// new events.
	Remove(observer Observer)

	// Notify notifies the observers of a new event.
	Notify(event interface{})
}

// Watcher is an implementation of the Observable interface.
//
// - implements core.Observable
type Watcher struct {
	sync.RWMutex

	observers map[Observer]struct{}
}

// NewWatcher creates a new empty watcher.
func NewWatcher() *Watcher {
	return &Watcher{
		observers: make(map[Observer]struct{}),
	}
}

// Add implements core.Observable. It adds the observer to the list of observers
// that will be notified of new events.
func (w *Watcher) Add(observer Observer) {
	w.Lock()
	w.observers[observer] = struct{}{}
	w.Unlock()
}

// Remove implements core.Observable. It removes the observer from the list thus
// stopping it from receiving new events.
func (w *Watcher) Remove(observer Observer) {
	w.Lock()
	delete(w.observers, observer)
	w.Unlock()
}

// Notify implements core.Observable. It notifies the observers one after the
// other. The list is copied so that an observer can remove itself.
func (w *Watcher) Notify(event interface{}) {
	w.RLock()
	observers := make([]Observer, 0, len(w.observers))
	for obs := range w.observers {
		observers = append(observers, obs)
	}
	w.RUnlock()

	for _, obs := range observers {
		obs.NotifyCallback(event)
	}
}

// Len returns the number of observers.
func (w *Watcher) Len() int {
	w.RLock()
	defer w.RUnlock()

	return len(w.observers)
}

// Subscribe returns a channel populated with the events until the context is
// done. Events are dropped when the buffer of the channel is full so that a
// slow subscriber never blocks the notifier.
func (w *Watcher) Subscribe(ctx context.Context, size int) <-chan interface{} {
	obs := &channelObserver{ch: make(chan interface{}, size)}

	w.Add(obs)

	go func() {
		<-ctx.Done()
		w.Remove(obs)

		obs.Lock()
		obs.closed = true
		close(obs.ch)
		obs.Unlock()
	}()

	return obs.ch
}

type channelObserver struct {
	sync.Mutex
	ch     chan interface{}
	closed bool
}

func (o *channelObserver) NotifyCallback(event interface{}) {
	o.Lock()
	defer o.Unlock()

	if o.closed {
		return
	}

	select {
	case o.ch <- event:
	default:
	}
}
