package state

import "sync"

// Container coordinates concurrent updates to a value of type T.
type Container[T any] struct {
	mu    sync.RWMutex
	value T
	clone func(T) T

	subMu  sync.RWMutex
	subs   []subscriber[T]
	nextID uint64
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// New returns a container holding initial. clone, when non-nil, is applied to
// every value handed out so callers cannot alias internal slices or maps.
func New[T any](initial T, clone func(T) T) *Container[T] {
	return &Container[T]{value: initial, clone: clone}
}

// Get returns a copy of the current value.
func (c *Container[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyOf(c.value)
}

// Set replaces the value and notifies subscribers.
func (c *Container[T]) Set(value T) {
	c.mu.Lock()
	c.value = value
	snap := c.copyOf(value)
	c.mu.Unlock()

	c.notify(snap)
}

// Update applies fn to the current value under the write lock and notifies
// subscribers with the result. fn must not call back into the container.
func (c *Container[T]) Update(fn func(T) T) T {
	c.mu.Lock()
	c.value = fn(c.value)
	snap := c.copyOf(c.value)
	c.mu.Unlock()

	c.notify(snap)
	return c.copyOf(snap)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. Subscribers run on the goroutine that made the change,
// after the lock is released.
func (c *Container[T]) Subscribe(fn func(T)) func() {
	c.subMu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriber[T]{id: id, fn: fn})
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

func (c *Container[T]) notify(value T) {
	c.subMu.RLock()
	subs := append([]subscriber[T](nil), c.subs...)
	c.subMu.RUnlock()

	for _, s := range subs {
		s.fn(c.copyOf(value))
	}
}

func (c *Container[T]) copyOf(value T) T {
	if c.clone == nil {
		return value
	}
	return c.clone(value)
}
