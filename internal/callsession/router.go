package callsession

import (
	"context"
	"sync"

	"github.com/voicelane/warmline/internal/telephony"
)

// Router fans the driver's single event stream out to per-leg subscribers.
// Exactly one Router runs per driver; sessions register their leg handle
// once dialing starts and deregister on close.
type Router struct {
	driver telephony.Driver

	mu      sync.Mutex
	subs    map[telephony.LegHandle]func(telephony.LegEvent)
	pending map[telephony.LegHandle][]telephony.LegEvent
}

// Events that race ahead of Subscribe are buffered per leg up to this
// many entries; a dial rejection can arrive before the dialer registers.
const pendingEventCap = 16

func NewRouter(driver telephony.Driver) *Router {
	return &Router{
		driver:  driver,
		subs:    make(map[telephony.LegHandle]func(telephony.LegEvent)),
		pending: make(map[telephony.LegHandle][]telephony.LegEvent),
	}
}

// Run consumes driver events until the context is cancelled or the driver
// closes its stream.
func (r *Router) Run(ctx context.Context) {
	events := r.driver.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.dispatch(ev)
		}
	}
}

func (r *Router) dispatch(ev telephony.LegEvent) {
	r.mu.Lock()
	fn := r.subs[ev.Leg]
	if fn == nil {
		if len(r.pending[ev.Leg]) < pendingEventCap {
			r.pending[ev.Leg] = append(r.pending[ev.Leg], ev)
		}
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn(ev)
}

func (r *Router) Subscribe(leg telephony.LegHandle, fn func(telephony.LegEvent)) {
	r.mu.Lock()
	buffered := r.pending[leg]
	delete(r.pending, leg)
	r.subs[leg] = fn
	r.mu.Unlock()

	for _, ev := range buffered {
		fn(ev)
	}
}

func (r *Router) Unsubscribe(leg telephony.LegHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, leg)
	delete(r.pending, leg)
}
