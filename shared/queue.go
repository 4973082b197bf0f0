package shared

import (
	"container/list"

	"github.com/go-pluto/shob/wire"
	"github.com/satori/go.uuid"
)

// Structs

// Queue is a Hash that additionally remembers the order in
// which keys were inserted. The order is kept as keys, the
// entries themselves live in the Hash store only.
type Queue struct {
	*Hash
	order    *list.List
	elements map[string]*list.Element
}

// Functions

// newQueue returns an empty queue object.
func newQueue(m *Manager, subject string, queue string) *Queue {

	q := &Queue{
		Hash:     newHash(m, subject, queue, wire.TypeQueue),
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
	q.Hash.index = q

	return q
}

func (q *Queue) inserted(key string) {
	q.elements[key] = q.order.PushBack(key)
}

func (q *Queue) deleted(key string) {

	if el, exists := q.elements[key]; exists {
		q.order.Remove(el)
		delete(q.elements, key)
	}
}

func (q *Queue) cleared() {
	q.order.Init()
	q.elements = make(map[string]*list.Element)
}

func (q *Queue) ordered() []string {

	keys := make([]string, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(string))
	}

	return keys
}

// Keys returns all keys in insertion order.
func (q *Queue) Keys() []string {

	q.storeLock.RLock()
	defer q.storeLock.RUnlock()

	return q.ordered()
}

// Entries returns copies of all entries in insertion order.
func (q *Queue) Entries() []Entry {

	q.storeLock.RLock()
	defer q.storeLock.RUnlock()

	entries := make([]Entry, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		entries = append(entries, *q.store[el.Value.(string)])
	}

	return entries
}

// Front returns a copy of the oldest entry.
func (q *Queue) Front() (Entry, bool) {

	q.storeLock.RLock()
	defer q.storeLock.RUnlock()

	el := q.order.Front()
	if el == nil {
		return Entry{}, false
	}

	return *q.store[el.Value.(string)], true
}

// PushBack appends value under key. An empty key is
// replaced by a fresh UUID, which is returned. Setting
// a key that is already queued keeps its position.
func (q *Queue) PushBack(key string, value string, broadcast bool) (string, error) {

	if key == "" {
		key = uuid.NewV4().String()
	}

	return key, q.Set(key, value, broadcast, false)
}

// PopFront removes and returns the oldest entry.
func (q *Queue) PopFront(broadcast bool) (Entry, bool, error) {

	q.storeLock.Lock()

	el := q.order.Front()
	if el == nil {
		q.storeLock.Unlock()
		return Entry{}, false, nil
	}

	key := el.Value.(string)
	e := *q.store[key]
	q.deleteNoLockNoBroadcast(key)

	q.storeLock.Unlock()

	if !broadcast {
		return e, true, nil
	}

	return e, true, q.addToTransaction([]string{key}, true)
}
