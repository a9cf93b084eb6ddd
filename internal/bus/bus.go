// Package bus is the typed, prioritized fan-out channel between components.
//
// Every cross-component signal travels through here: market data, trade
// signals, risk alerts, performance updates, and the emergency stop. Components
// never hold references to each other; they hold a *Bus.
package bus

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a message. Priorities are fixed per kind: lower is more
// urgent, and EmergencyStop always wins.
type Kind string

const (
	KindEmergencyStop      Kind = "EmergencyStop"
	KindRiskAlert          Kind = "RiskAlert"
	KindTradeSignal        Kind = "TradeSignal"
	KindMarketData         Kind = "MarketData"
	KindPerformanceUpdate  Kind = "PerformanceUpdate"
	KindSystemStatus       Kind = "SystemStatus"
	KindAgentCommunication Kind = "AgentCommunication"
)

// Priority returns the numeric priority of a kind; 0 is the most urgent.
func (k Kind) Priority() int {
	switch k {
	case KindEmergencyStop:
		return 0
	case KindRiskAlert:
		return 1
	case KindTradeSignal:
		return 2
	case KindMarketData:
		return 3
	case KindPerformanceUpdate:
		return 4
	case KindSystemStatus:
		return 5
	default:
		return 6
	}
}

// Message is one bus envelope. Payload is a component-defined value; the bus
// never inspects it.
type Message struct {
	ID        string
	Kind      Kind
	Sender    string
	Recipient string // empty = broadcast
	Payload   any
	At        time.Time
}

// DropAlert is the payload of the SystemStatus message emitted when a
// saturated subscriber queue evicts a message.
type DropAlert struct {
	Subscriber string
	Dropped    Kind
	Age        time.Duration
}

// ErrBacklogOverflow is returned by Publish when a subscriber queue is full
// and holds no victim of lower priority than the incoming message.
var ErrBacklogOverflow = errors.New("bus: backlog overflow")

// DefaultBacklog is the per-subscriber queue ceiling.
const DefaultBacklog = 1000

// Handler processes one delivered message. Invocations are serialized per
// subscriber.
type Handler func(Message)

type subscriber struct {
	id      string
	kinds   map[Kind]bool
	handler Handler

	mu    sync.Mutex
	cond  *sync.Cond
	queue []Message
	done  bool
}

func (s *subscriber) wants(m Message) bool {
	if m.Recipient != "" && m.Recipient != s.id {
		return false
	}
	if len(s.kinds) == 0 {
		return true
	}
	return s.kinds[m.Kind]
}

// deliverLoop pops messages and invokes the handler until closed. One
// goroutine per subscriber: handler invocation is serialized by construction.
func (s *subscriber) deliverLoop() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.done {
			s.cond.Wait()
		}
		if s.done && len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		m := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(m)
	}
}

// Bus fans messages out to subscribers with bounded per-subscriber backlogs
// and a shared history ring for late joiners.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	backlog     int

	history    []Message
	historyCap int

	dropped atomic.Uint64
}

// New creates a bus with the given per-subscriber backlog ceiling.
// backlog <= 0 uses DefaultBacklog.
func New(backlog int) *Bus {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Bus{
		subscribers: make(map[string]*subscriber),
		backlog:     backlog,
		historyCap:  256,
	}
}

// Subscribe registers a handler under a component ID. An empty kinds list
// subscribes to everything. Re-subscribing an ID replaces the previous
// subscription.
func (b *Bus) Subscribe(id string, handler Handler, kinds ...Kind) {
	sub := &subscriber{
		id:      id,
		kinds:   make(map[Kind]bool, len(kinds)),
		handler: handler,
	}
	sub.cond = sync.NewCond(&sub.mu)
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	b.mu.Lock()
	if old, ok := b.subscribers[id]; ok {
		old.close()
	}
	b.subscribers[id] = sub
	b.mu.Unlock()

	go sub.deliverLoop()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.done = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Unsubscribe removes a subscription; queued messages still drain.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		sub.close()
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Publish enqueues a batch non-blockingly. The batch is sorted by priority so
// each subscriber sees it in priority order; ordering across publishers is
// not guaranteed. On a saturated queue the oldest strictly-lower-priority
// victim is evicted and a DropAlert is emitted; if no victim exists the
// message is rejected with ErrBacklogOverflow.
func (b *Bus) Publish(msgs ...Message) error {
	now := time.Now().UTC()
	batch := make([]Message, len(msgs))
	copy(batch, msgs)
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.New().String()
		}
		if batch[i].At.IsZero() {
			batch[i].At = now
		}
	}
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Kind.Priority() < batch[j].Kind.Priority()
	})

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	for _, m := range batch {
		b.history = append(b.history, m)
		if len(b.history) > b.historyCap {
			b.history = b.history[len(b.history)-b.historyCap:]
		}
	}
	b.mu.Unlock()

	var errs []error
	var alerts []Message
	for _, m := range batch {
		for _, s := range subs {
			if !s.wants(m) {
				continue
			}
			if dropped, ok, err := b.enqueue(s, m); err != nil {
				errs = append(errs, fmt.Errorf("bus.Publish: subscriber %s: %w", s.id, err))
			} else if ok {
				alerts = append(alerts, Message{
					ID:      uuid.New().String(),
					Kind:    KindSystemStatus,
					Sender:  "bus",
					Payload: DropAlert{Subscriber: s.id, Dropped: dropped.Kind, Age: now.Sub(dropped.At)},
					At:      now,
				})
			}
		}
	}

	// Drop alerts are best-effort: a saturated queue just skips them.
	for _, a := range alerts {
		for _, s := range subs {
			if s.wants(a) {
				_, _, _ = b.enqueue(s, a)
			}
		}
	}

	return errors.Join(errs...)
}

// enqueue inserts m into s's queue, evicting if needed. Returns the evicted
// message when one was dropped.
func (b *Bus) enqueue(s *subscriber, m Message) (evicted Message, dropped bool, err error) {
	s.mu.Lock()
	defer func() {
		s.cond.Signal()
		s.mu.Unlock()
	}()

	if len(s.queue) < b.backlog {
		s.queue = append(s.queue, m)
		return Message{}, false, nil
	}

	// Victim = the queue's worst-priority entry, oldest on ties, and only if
	// it is strictly worse than the incoming message.
	victim := -1
	worst := m.Kind.Priority()
	for i, q := range s.queue {
		if p := q.Kind.Priority(); p > worst {
			worst = p
			victim = i
		}
	}
	if victim == -1 {
		b.dropped.Add(1)
		return Message{}, false, ErrBacklogOverflow
	}

	evicted = s.queue[victim]
	s.queue = append(s.queue[:victim], s.queue[victim+1:]...)
	s.queue = append(s.queue, m)

	b.dropped.Add(1)
	return evicted, true, nil
}

// History returns a copy of the retained message tail.
func (b *Bus) History() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.history))
	copy(out, b.history)
	return out
}

// Dropped returns the count of evicted or rejected messages.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts down all subscriber loops.
func (b *Bus) Close() {
	b.mu.Lock()
	for id, s := range b.subscribers {
		s.close()
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}
