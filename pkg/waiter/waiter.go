package waiter

import (
	"sync"

	"github.com/evanphx/synapse/log"
	"github.com/evanphx/synapse/pkg/ilist"
)

type EventType uint64

type Waiter struct {
	mu sync.RWMutex

	waiters ilist.List[*Event]
}

type Event struct {
	handle ilist.Handle

	Mask     EventType
	Context  interface{}
	Callback func(e *Event)
}

func (w *Waiter) Register(e *Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e.handle = w.waiters.PushBack(e)
}

func triggerChan(e *Event) {
	c := e.Context.(chan struct{})

	select {
	case c <- struct{}{}:
	default:
	}
}

func (w *Waiter) RegisterChannel(mask EventType, c chan struct{}) *Event {
	e := &Event{
		Callback: triggerChan,
		Context:  c,
		Mask:     mask,
	}

	w.Register(e)

	return e
}

func (w *Waiter) Unregister(e *Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.waiters.Remove(e.handle)
	e.handle = ilist.Nil
}

func (w *Waiter) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.waiters.Len()
}

func (w *Waiter) Notify(mask EventType) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	log.L.Trace("waiters-notify", "count", w.waiters.Len())

	w.waiters.Each(func(_ ilist.Handle, e *Event) bool {
		log.L.Trace("waiters-walk", "event-mask", e.Mask, "notify-mask", mask, "match", mask&e.Mask)
		if mask&e.Mask != 0 {
			e.Callback(e)
		}
		return true
	})
}
