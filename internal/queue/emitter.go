package queue

import "sync"

// Emitter dispatches named signals to registered listeners. The consumer uses
// it for its poll signal, so several consumers can share one emitter under
// different event names.
type Emitter interface {
	On(event string, fn func())
	Emit(event string)
}

type emitter struct {
	mu        sync.RWMutex
	listeners map[string][]func()
}

// NewEmitter returns an in-process Emitter. Listeners run on their own goroutine,
// so Emit never blocks on a listener.
func NewEmitter() Emitter {
	return &emitter{listeners: make(map[string][]func())}
}

func (e *emitter) On(event string, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], fn)
}

func (e *emitter) Emit(event string) {
	e.mu.RLock()
	fns := append([]func(){}, e.listeners[event]...)
	e.mu.RUnlock()

	for _, fn := range fns {
		go fn()
	}
}
