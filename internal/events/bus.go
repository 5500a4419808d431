package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buttermb/menulink/internal/domain"
	"github.com/buttermb/menulink/pkg/logger"
)

// Sink receives every published event in addition to the in-process
// subscribers. Used to bridge the bus onto Kafka.
type Sink interface {
	Produce(event *domain.Event)
}

// Subscription is one dashboard session's view of the event stream.
// Delivery is best-effort: a slow consumer loses events rather than
// slowing publishers down. Consumers deduplicate by event id.
type Subscription struct {
	C chan *domain.Event

	id       uint64
	tenantID string
	menuID   string // empty means all menus of the tenant
	bus      *Bus
}

// Close removes the subscription from the bus
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus is the in-process event fan-out. Publishing happens after the
// corresponding state mutation commits, so per-menu ordering on a
// single subscriber channel follows mutation order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	sink   Sink

	published atomic.Uint64
	droppedN  atomic.Uint64
}

// NewBus creates an event bus. sink may be nil.
func NewBus(sink Sink) *Bus {
	return &Bus{
		subs: make(map[uint64]*Subscription),
		sink: sink,
	}
}

// Subscribe registers a dashboard session for a tenant's events,
// optionally narrowed to a single menu
func (b *Bus) Subscribe(tenantID, menuID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		C:        make(chan *domain.Event, buffer),
		id:       b.nextID,
		tenantID: tenantID,
		menuID:   menuID,
		bus:      b,
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.C)
	}
}

// Publish fans an event out to matching subscribers and the sink.
// Never blocks: full subscriber buffers drop the event for that
// subscriber and the drop is counted.
func (b *Bus) Publish(event *domain.Event) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	b.published.Add(1)

	b.mu.RLock()
	for _, sub := range b.subs {
		if sub.tenantID != event.TenantID {
			continue
		}
		if sub.menuID != "" && sub.menuID != event.MenuID {
			continue
		}
		select {
		case sub.C <- event:
		default:
			b.droppedN.Add(1)
			logger.Debug("event dropped for slow subscriber",
				zap.String("event_id", event.ID),
				zap.String("tenant_id", event.TenantID),
			)
		}
	}
	b.mu.RUnlock()

	if b.sink != nil {
		b.sink.Produce(event)
	}
}

// Stats returns publish and drop accounting
func (b *Bus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.droppedN.Load()
}

// Close closes all subscriptions
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.C)
	}
}
