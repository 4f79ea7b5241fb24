// Package workset holds the canonical in-memory order collection.
//
// Orders change only through Apply, which runs order.Merge under the set
// lock so the rank rule is checked against the state held at commit time.
package workset

import (
	"sort"
	"sync"

	"github.com/xenking/orderwatch/internal/domain/order"
)

// EventType tells subscribers what happened to an order.
type EventType string

const (
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event is a change notification. Order is a copy and is nil for removals.
type Event struct {
	Type   EventType
	ID     string
	Order  *order.Order
	Report order.Report
}

type entry struct {
	o   *order.Order
	seq uint64
}

// Set is a concurrency-safe order collection.
type Set struct {
	mu      sync.RWMutex
	orders  map[string]*entry
	nextSeq uint64

	subMu   sync.Mutex
	subs    map[uint64]chan Event
	nextSub uint64
	dropped uint64
}

// New creates an empty Set.
func New() *Set {
	return &Set{
		orders: make(map[string]*entry),
		subs:   make(map[uint64]chan Event),
	}
}

// Apply merges fragments into the order id, creating it when unknown. It
// returns a copy of the resulting order and the merge report.
func (s *Set) Apply(id string, frags ...order.Fragment) (*order.Order, order.Report) {
	if id == "" || len(frags) == 0 {
		return nil, order.Report{}
	}
	own := make([]order.Fragment, len(frags))
	for i, f := range frags {
		f.ID = id
		own[i] = f
	}

	s.mu.Lock()
	e, ok := s.orders[id]
	var cur *order.Order
	if ok {
		cur = e.o
	}
	next, rep := order.Merge(cur, own...)
	if !ok {
		s.nextSeq++
		e = &entry{seq: s.nextSeq}
		s.orders[id] = e
		rep.Changed = true
	}
	e.o = next
	out := next.Clone()
	s.mu.Unlock()

	if rep.Changed {
		s.publish(Event{Type: EventUpdated, ID: id, Order: out.Clone(), Report: rep})
	}
	return out, rep
}

// Put inserts the order a fragment describes, or merges the fragment into
// the held order. Fragments without an id are ignored.
func (s *Set) Put(f order.Fragment) (*order.Order, order.Report) {
	return s.Apply(f.ID, f)
}

// Ingest puts each fragment and returns how many orders changed.
func (s *Set) Ingest(frags []order.Fragment) int {
	var changed int
	for _, f := range frags {
		if _, rep := s.Put(f); rep.Changed {
			changed++
		}
	}
	return changed
}

// Seed inserts orders as snapshot fragments. Known orders keep their
// state except where the snapshot moves them forward.
func (s *Set) Seed(orders []*order.Order) {
	for _, o := range orders {
		if o == nil || o.ID == "" {
			continue
		}
		s.Put(order.FragmentOf(o, order.SourceSnapshot))
	}
}

// Remove deletes an order. It reports whether the order was held.
func (s *Set) Remove(id string) bool {
	s.mu.Lock()
	_, ok := s.orders[id]
	delete(s.orders, id)
	s.mu.Unlock()

	if ok {
		s.publish(Event{Type: EventRemoved, ID: id})
	}
	return ok
}

// Get returns a copy of the order.
func (s *Set) Get(id string) (*order.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	return e.o.Clone(), true
}

// List returns copies of all orders, most recently created first. Orders
// with equal creation time keep their insertion order.
func (s *Set) List() []*order.Order {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.orders))
	for _, e := range s.orders {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.o.CreatedAt.Equal(b.o.CreatedAt) {
			return a.o.CreatedAt.After(b.o.CreatedAt)
		}
		return a.seq < b.seq
	})

	out := make([]*order.Order, len(entries))
	for i, e := range entries {
		out[i] = e.o.Clone()
	}
	return out
}

// IDs returns the ids of all orders in List order.
func (s *Set) IDs() []string {
	list := s.List()
	ids := make([]string, len(list))
	for i, o := range list {
		ids[i] = o.ID
	}
	return ids
}

// Len returns the number of held orders.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Subscribe registers a listener. Events that do not fit in the buffer are
// dropped. The returned cancel func closes the channel and is idempotent.
func (s *Set) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

// Dropped returns how many events were dropped for slow subscribers.
func (s *Set) Dropped() uint64 {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.dropped
}

func (s *Set) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.dropped++
		}
	}
}
