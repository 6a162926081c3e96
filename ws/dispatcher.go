package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Handler consumes a raw event payload. Handlers run synchronously on the
// goroutine that delivers the event; a handler doing slow work should hand
// it off itself.
type Handler func(payload json.RawMessage)

type listener struct {
	h    Handler
	once bool
}

// Dispatcher maps event names to registered handlers and fans inbound
// events out to them. It delivers each event to every registration exactly
// once per emission and contains handler panics so one misbehaving handler
// cannot starve its siblings.
type Dispatcher struct {
	mu        sync.Mutex
	seq       int
	listeners map[string]map[int]*listener
	logger    *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		listeners: make(map[string]map[int]*listener),
		logger:    logger,
	}
}

// On registers a handler for an event and returns the capability to remove
// exactly that registration. The returned function is safe to call more
// than once.
func (d *Dispatcher) On(event string, h Handler) func() {
	return d.register(event, h, false)
}

// Once registers a handler that fires at most once and is then removed.
func (d *Dispatcher) Once(event string, h Handler) func() {
	return d.register(event, h, true)
}

func (d *Dispatcher) register(event string, h Handler, once bool) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	id := d.seq
	if d.listeners[event] == nil {
		d.listeners[event] = make(map[int]*listener)
	}
	d.listeners[event][id] = &listener{h: h, once: once}
	return func() {
		d.remove(event, id)
	}
}

func (d *Dispatcher) remove(event string, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ls, ok := d.listeners[event]
	if !ok {
		return
	}
	delete(ls, id)
	if len(ls) == 0 {
		delete(d.listeners, event)
	}
}

// Off removes every handler registered for the event.
func (d *Dispatcher) Off(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners, event)
}

// Clear removes every registration for every event.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = make(map[string]map[int]*listener)
}

// Emit delivers a payload to every handler registered for the event.
// One-shot registrations are removed before their handler runs, so a
// handler emitting the same event recursively cannot re-trigger them.
func (d *Dispatcher) Emit(event string, payload json.RawMessage) {
	d.mu.Lock()
	ls := d.listeners[event]
	snapshot := make([]*listener, 0, len(ls))
	for id, l := range ls {
		snapshot = append(snapshot, l)
		if l.once {
			delete(ls, id)
		}
	}
	if len(ls) == 0 {
		delete(d.listeners, event)
	}
	d.mu.Unlock()

	for _, l := range snapshot {
		d.call(event, l.h, payload)
	}
}

func (d *Dispatcher) call(event string, h Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(fmt.Sprintf("%s handler panicked: %v", event, r))
		}
	}()
	h(payload)
}
