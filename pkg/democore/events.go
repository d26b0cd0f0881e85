package democore

import (
	"context"
	"sync"

	"github.com/micro-manager/mmgocorex/pkg/domain"
	"github.com/micro-manager/mmgocorex/pkg/logging"

	"github.com/google/uuid"
)

// subscriberBufferSize bounds each subscriber channel. A subscriber that
// falls this far behind starts losing events rather than stalling the core.
const subscriberBufferSize = 64

// eventDispatcher fans core callback events out to subscribers.
type eventDispatcher struct {
	mu          sync.Mutex
	subscribers map[string]chan domain.CoreEvent
	dropped     int64
	closed      bool
	logger      logging.Logger
}

func newEventDispatcher(logger logging.Logger) *eventDispatcher {
	return &eventDispatcher{
		subscribers: make(map[string]chan domain.CoreEvent),
		logger:      logger,
	}
}

// Subscribe registers a new subscriber and returns its id and channel. The
// channel is closed on Unsubscribe or dispatcher shutdown.
func (d *eventDispatcher) Subscribe() (string, <-chan domain.CoreEvent) {
	id := uuid.NewString()
	ch := make(chan domain.CoreEvent, subscriberBufferSize)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		close(ch)
		return id, ch
	}

	d.subscribers[id] = ch
	return id, ch
}

// SubscribeContext registers a subscriber that is removed when ctx is done.
func (d *eventDispatcher) SubscribeContext(ctx context.Context) <-chan domain.CoreEvent {
	id, ch := d.Subscribe()
	go func() {
		<-ctx.Done()
		d.Unsubscribe(id)
	}()
	return ch
}

func (d *eventDispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch, ok := d.subscribers[id]; ok {
		delete(d.subscribers, id)
		close(ch)
	}
}

// Publish delivers an event to all subscribers without blocking. Slow
// subscribers lose events; the loss is counted.
func (d *eventDispatcher) Publish(event domain.CoreEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	for id, ch := range d.subscribers {
		select {
		case ch <- event:
		default:
			d.dropped++
			d.logger.Warnf("Dropping core event for slow subscriber, id: %s, type: %s", id, event.Type)
		}
	}
}

// DroppedCount reports how many events have been dropped in total.
func (d *eventDispatcher) DroppedCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close shuts the dispatcher down, closing all subscriber channels.
func (d *eventDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true

	for id, ch := range d.subscribers {
		delete(d.subscribers, id)
		close(ch)
	}
}
