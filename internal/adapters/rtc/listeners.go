package rtc

import (
	"sync"

	"github.com/dkeye/LiveView/internal/core"
)

type listener struct {
	id core.ListenerID
	h  core.EventHandler
}

type queuedEvent struct {
	name core.EventName
	ev   core.TrackEvent
}

// listeners keeps registered handlers and delivers events on a single
// goroutine, so handlers for one client never run concurrently and see
// events in emit order.
type listeners struct {
	mu      sync.RWMutex
	next    core.ListenerID
	byEvent map[core.EventName][]listener

	queue chan queuedEvent
	done  chan struct{}
	once  sync.Once
}

func newListeners() *listeners {
	l := &listeners{
		byEvent: make(map[core.EventName][]listener),
		queue:   make(chan queuedEvent, 16),
		done:    make(chan struct{}),
	}
	go l.dispatchLoop()
	return l
}

func (l *listeners) on(name core.EventName, h core.EventHandler) core.ListenerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.byEvent[name] = append(l.byEvent[name], listener{id: l.next, h: h})
	return l.next
}

func (l *listeners) off(name core.EventName, id core.ListenerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ls := l.byEvent[name]
	for i, e := range ls {
		if e.id == id {
			l.byEvent[name] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

func (l *listeners) removeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byEvent = make(map[core.EventName][]listener)
}

func (l *listeners) count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, ls := range l.byEvent {
		n += len(ls)
	}
	return n
}

// emit queues an event. It reports false once the dispatcher is closed.
func (l *listeners) emit(name core.EventName, ev core.TrackEvent) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- queuedEvent{name: name, ev: ev}:
		return true
	case <-l.done:
		return false
	}
}

func (l *listeners) dispatchLoop() {
	for {
		select {
		case <-l.done:
			return
		case q := <-l.queue:
			l.mu.RLock()
			handlers := make([]listener, len(l.byEvent[q.name]))
			copy(handlers, l.byEvent[q.name])
			l.mu.RUnlock()
			for _, e := range handlers {
				e.h(q.ev)
			}
		}
	}
}

func (l *listeners) close() {
	l.once.Do(func() { close(l.done) })
}
