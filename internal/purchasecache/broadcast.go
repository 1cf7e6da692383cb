package purchasecache

import (
    "sync"

    "github.com/google/uuid"
)

// Broadcaster fans a payload out to every registered subscriber.  The zero
// value is ready to use and it is safe for concurrent use.  Callbacks run
// synchronously on the publishing goroutine, each exactly once per Publish.
type Broadcaster[T any] struct {
    mu   sync.RWMutex
    subs map[uuid.UUID]func(T)
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (b *Broadcaster[T]) Subscribe(fn func(T)) (unsubscribe func()) {
    if fn == nil {
        return func() {}
    }
    id := uuid.New()
    b.mu.Lock()
    if b.subs == nil {
        b.subs = make(map[uuid.UUID]func(T))
    }
    b.subs[id] = fn
    b.mu.Unlock()

    var once sync.Once
    return func() {
        once.Do(func() {
            b.mu.Lock()
            delete(b.subs, id)
            b.mu.Unlock()
        })
    }
}

// Publish invokes every subscriber registered at the time of the call.
// Subscribers may subscribe or unsubscribe from inside their callback.
func (b *Broadcaster[T]) Publish(payload T) {
    b.mu.RLock()
    fns := make([]func(T), 0, len(b.subs))
    for _, fn := range b.subs {
        fns = append(fns, fn)
    }
    b.mu.RUnlock()

    for _, fn := range fns {
        fn(payload)
    }
}

// Len returns the number of live subscriptions.
func (b *Broadcaster[T]) Len() int {
    b.mu.RLock()
    defer b.mu.RUnlock()
    return len(b.subs)
}
