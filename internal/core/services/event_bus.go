package services

import (
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultQueueWarnSize = 1024

// EventBus fans domain events out to independent subscribers. Every
// subscriber owns an unbounded FIFO and a delivery goroutine, so a slow
// subscriber never blocks emitters or other subscribers and always observes
// events in emission order.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	closed      bool

	queueWarnSize int
	logger        *zap.SugaredLogger
}

type subscriber struct {
	name    string
	filter  ports.EventFilter
	handler func(domain.Event)
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	queue    []domain.Event
	stopped  bool
	warned   bool
	warnSize int

	wake chan struct{}
	done chan struct{}
}

func NewEventBus(logger *zap.SugaredLogger) *EventBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventBus{
		subscribers:   make(map[uint64]*subscriber),
		queueWarnSize: defaultQueueWarnSize,
		logger:        logger,
	}
}

// SetQueueWarnSize sets the backlog length at which a subscriber is reported
// as lagging.
func (b *EventBus) SetQueueWarnSize(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > 0 {
		b.queueWarnSize = n
	}
}

// Publish stamps the event and enqueues it for every matching subscriber.
// It never blocks on delivery.
func (b *EventBus) Publish(event domain.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		if sub.matches(event) {
			sub.enqueue(event)
		}
	}
}

// Subscribe registers handler. The returned function removes the
// subscription; events already queued are still delivered.
func (b *EventBus) Subscribe(name string, filter ports.EventFilter, handler func(domain.Event)) func() {
	sub := &subscriber{
		name:    name,
		filter:  filter,
		handler: handler,
		logger:  b.logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return func() {}
	}
	id := b.nextID
	b.nextID++
	sub.warnSize = b.queueWarnSize
	b.subscribers[id] = sub
	b.mu.Unlock()

	go sub.run()

	b.logger.Debugw("event subscriber attached", "subscriber", name)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			sub.stop()
		})
	}
}

// Close stops accepting events, delivers everything already queued and
// waits for all subscribers to finish. Must not be called from a handler.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subscribers))
	for id, sub := range b.subscribers {
		subs = append(subs, sub)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	for _, sub := range subs {
		<-sub.done
	}
}

func (s *subscriber) matches(event domain.Event) bool {
	if s.filter.ConnectionID != "" && s.filter.ConnectionID != event.ConnectionID {
		return false
	}
	if len(s.filter.Types) == 0 {
		return true
	}
	for _, t := range s.filter.Types {
		if t == event.Type {
			return true
		}
	}
	return false
}

func (s *subscriber) enqueue(event domain.Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	backlog := len(s.queue)
	warn := !s.warned && backlog >= s.warnSize
	if warn {
		s.warned = true
	}
	s.mu.Unlock()

	if warn {
		s.logger.Warnw("event subscriber is lagging", "subscriber", s.name, "backlog", backlog)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.done)

	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				stopped := s.stopped
				s.warned = false
				s.mu.Unlock()
				if stopped {
					return
				}
				break
			}
			event := s.queue[0]
			s.queue[0] = domain.Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.deliver(event)
		}
	}
}

func (s *subscriber) deliver(event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("event handler panicked",
				"subscriber", s.name,
				"event_type", event.Type,
				"connection_id", event.ConnectionID,
				"panic", r,
			)
		}
	}()
	s.handler(event)
}
