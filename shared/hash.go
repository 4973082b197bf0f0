package shared

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/shob/wire"
	"golang.org/x/exp/slices"
)

// Structs

// storeIndex is notified about keys entering and leaving
// a store and defines the order keys are sent in. Calls
// happen with the store lock held.
type storeIndex interface {
	inserted(key string)
	deleted(key string)
	cleared()
	ordered() []string
}

// Hash is one replicated key/value table identified by its
// subject. Local mutations are sent to its broadcast queue.
type Hash struct {
	manager *Manager
	logger  log.Logger
	subject string
	queue   string
	typ     wire.Type
	index   storeIndex

	storeLock *sync.RWMutex
	store     map[string]*Entry

	// txLock is held from opening to closing a transaction.
	txLock      *sync.Mutex
	txStateLock *sync.Mutex
	txState     txState
	txKeys      map[string]struct{}
	txDeletions map[string]struct{}
}

// Functions

// newHash returns an empty object of type typ.
func newHash(m *Manager, subject string, queue string, typ wire.Type) *Hash {

	return &Hash{
		manager:     m,
		logger:      log.With(m.logger, "subject", subject),
		subject:     subject,
		queue:       queue,
		typ:         typ,
		storeLock:   &sync.RWMutex{},
		store:       make(map[string]*Entry),
		txLock:      &sync.Mutex{},
		txStateLock: &sync.Mutex{},
		txState:     txIdle,
		txKeys:      make(map[string]struct{}),
		txDeletions: make(map[string]struct{}),
	}
}

// Subject returns the name of this object.
func (h *Hash) Subject() string {
	return h.subject
}

// BroadcastQueue returns the target of this object's broadcasts.
func (h *Hash) BroadcastQueue() string {
	return h.queue
}

// Type returns the registry type of this object.
func (h *Hash) Type() wire.Type {
	return h.typ
}

// Set stores value under key and bumps the key's change id.
// With broadcast, the key is sent to the broadcast queue:
// as part of the open multiplexed transaction if there is
// one, otherwise as part of this object's transaction,
// which is opened and closed around this call if needed.
// Notifications for watched keys are staged instead of
// queued if deferNotify is set.
func (h *Hash) Set(key string, value string, broadcast bool, deferNotify bool) error {

	mux := false

	if broadcast {

		// Reject before mutating anything if the open
		// multiplexed transaction is of another type.
		open, typ := h.manager.muxStatus()
		if open {

			if typ != h.typ {
				return ErrMuxTypeMismatch
			}

			mux = true
		}
	}

	h.storeLock.Lock()
	watched := h.setNoLockNoBroadcast(key, value)
	h.storeLock.Unlock()

	if watched {
		h.manager.keyModified(h.subject, key, deferNotify)
	}

	if !broadcast {
		return nil
	}

	// The multiplexed transaction might have been closed,
	// or replaced by one of another type, in the meantime.
	// Fall back to our own.
	if mux && h.manager.muxAdd(h.subject, key, h.typ) {
		return nil
	}

	return h.addToTransaction([]string{key}, false)
}

// setNoLockNoBroadcast is the apply path for incoming
// messages. The caller holds the store lock for writing.
// It reports whether key is a watched key.
func (h *Hash) setNoLockNoBroadcast(key string, value string) bool {

	e, exists := h.store[key]
	if !exists {

		e = &Entry{Key: key}
		h.store[key] = e

		if h.index != nil {
			h.index.inserted(key)
		}
	}

	e.set(value)

	return h.manager.isWatched(key)
}

// Delete removes key. It returns false if key was not
// present, in which case nothing is broadcast.
func (h *Hash) Delete(key string, broadcast bool) (bool, error) {

	h.storeLock.Lock()
	deleted := h.deleteNoLockNoBroadcast(key)
	h.storeLock.Unlock()

	if !deleted || !broadcast {
		return deleted, nil
	}

	return true, h.addToTransaction([]string{key}, true)
}

// deleteNoLockNoBroadcast removes key if present.
// The caller holds the store lock for writing.
func (h *Hash) deleteNoLockNoBroadcast(key string) bool {

	if _, exists := h.store[key]; !exists {
		return false
	}

	delete(h.store, key)

	if h.index != nil {
		h.index.deleted(key)
	}

	return true
}

// Clear removes all keys. With broadcast, the removed
// keys are sent as one deletion.
func (h *Hash) Clear(broadcast bool) error {

	h.storeLock.Lock()
	keys := h.clearNoLockNoBroadcast()
	h.storeLock.Unlock()

	if !broadcast || len(keys) == 0 {
		return nil
	}

	return h.addToTransaction(keys, true)
}

// clearNoLockNoBroadcast empties the store and returns
// the removed keys. The caller holds the store lock.
func (h *Hash) clearNoLockNoBroadcast() []string {

	keys := h.sortedKeysNoLock()

	h.store = make(map[string]*Entry)

	if h.index != nil {
		h.index.cleared()
	}

	return keys
}

// Get returns the value of key or an empty string.
func (h *Hash) Get(key string) string {

	h.storeLock.RLock()
	defer h.storeLock.RUnlock()

	if e, exists := h.store[key]; exists {
		return e.Value
	}

	return ""
}

// GetEntry returns a copy of the entry of key.
func (h *Hash) GetEntry(key string) (Entry, bool) {

	h.storeLock.RLock()
	defer h.storeLock.RUnlock()

	e, exists := h.store[key]
	if !exists {
		return Entry{}, false
	}

	return *e, true
}

// GetInt64 returns the value of key as integer,
// or 0 if it is missing or not a number.
func (h *Hash) GetInt64(key string) int64 {

	num, err := strconv.ParseInt(h.Get(key), 10, 64)
	if err != nil {
		return 0
	}

	return num
}

// GetUint64 returns the value of key as unsigned
// integer, or 0 if it is missing or not a number.
func (h *Hash) GetUint64(key string) uint64 {

	num, err := strconv.ParseUint(h.Get(key), 10, 64)
	if err != nil {
		return 0
	}

	return num
}

// GetFloat64 returns the value of key as float,
// or 0 if it is missing or not a number.
func (h *Hash) GetFloat64(key string) float64 {

	num, err := strconv.ParseFloat(h.Get(key), 64)
	if err != nil {
		return 0
	}

	return num
}

// Len returns the number of keys.
func (h *Hash) Len() int {

	h.storeLock.RLock()
	defer h.storeLock.RUnlock()

	return len(h.store)
}

// Keys returns all keys in lexical order.
func (h *Hash) Keys() []string {

	h.storeLock.RLock()
	defer h.storeLock.RUnlock()

	return h.sortedKeysNoLock()
}

func (h *Hash) sortedKeysNoLock() []string {

	keys := make([]string, 0, len(h.store))
	for key := range h.store {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	return keys
}

// allKeysNoLock returns all keys in the order they are
// sent to peers: insertion order if the object keeps one,
// lexical order otherwise.
func (h *Hash) allKeysNoLock() []string {

	if h.index != nil {
		return h.index.ordered()
	}

	return h.sortedKeysNoLock()
}

// orderedNoLock returns the present keys out of keys in
// the order of allKeysNoLock.
func (h *Hash) orderedNoLock(keys []string) []string {

	if h.index == nil {

		sorted := make([]string, len(keys))
		copy(sorted, keys)
		slices.Sort(sorted)

		return sorted
	}

	wanted := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		wanted[key] = struct{}{}
	}

	ordered := make([]string, 0, len(keys))
	for _, key := range h.index.ordered() {

		if _, exists := wanted[key]; exists {
			ordered = append(ordered, key)
		}
	}

	return ordered
}

// snapshotNoLock returns pairs for keys that are
// still present. The caller holds the store lock.
func (h *Hash) snapshotNoLock(keys []string) []wire.Pair {

	pairs := make([]wire.Pair, 0, len(keys))

	for _, key := range keys {

		if e, exists := h.store[key]; exists {

			pairs = append(pairs, wire.Pair{
				Subject:  wire.AllSubjects,
				Key:      e.Key,
				Value:    e.Value,
				ChangeID: e.ChangeID,
			})
		}
	}

	return pairs
}

// StoreAsString returns all 'key=value' pairs separated
// by spaces. Keys starting with excludePrefix are left
// out unless excludePrefix is empty.
func (h *Hash) StoreAsString(excludePrefix string) string {

	h.storeLock.RLock()
	defer h.storeLock.RUnlock()

	parts := make([]string, 0, len(h.store))

	for _, key := range h.sortedKeysNoLock() {

		if excludePrefix != "" && strings.HasPrefix(key, excludePrefix) {
			continue
		}

		parts = append(parts, fmt.Sprintf("%s=%s", key, h.store[key].Value))
	}

	return strings.Join(parts, " ")
}

// Dump writes one line per key to w.
func (h *Hash) Dump(w io.Writer) error {

	h.storeLock.RLock()
	defer h.storeLock.RUnlock()

	for _, key := range h.sortedKeysNoLock() {

		e := h.store[key]

		_, err := fmt.Fprintf(w, "key=%-24s value:%-64s changeid:%d\n", e.Key, e.Value, e.ChangeID)
		if err != nil {
			return err
		}
	}

	return nil
}

// BroadCastRequest asks the holders of this subject behind
// target to send us their contents. An empty target means
// this object's broadcast queue.
func (h *Hash) BroadCastRequest(target string) error {

	if target == "" {
		target = h.queue
	}

	clientID, err := h.manager.clientID()
	if err != nil {
		return err
	}

	msg := wire.NewBroadcastRequest(h.subject, h.typ, clientID)

	return h.manager.send(msg.Encode(), target)
}

// BroadCastEnvString answers a broadcast request by sending
// all keys to receiver. Transaction buffers are not touched.
// An empty object sends nothing. A snapshot exceeding the
// message size limit is sent as a reply with the first key
// followed by one update per remaining key.
func (h *Hash) BroadCastEnvString(receiver string) error {

	h.storeLock.RLock()
	pairs := h.snapshotNoLock(h.allKeysNoLock())
	h.storeLock.RUnlock()

	if len(pairs) == 0 {
		level.Debug(h.logger).Log("msg", "not answering broadcast request for empty object", "receiver", receiver)
		return nil
	}

	msg := wire.NewBroadcastReply(h.subject, h.typ, pairs)
	if msg.Size() <= h.manager.maxMessageSize() || len(pairs) == 1 {
		return h.manager.send(msg.Encode(), receiver)
	}

	level.Info(h.logger).Log(
		"msg", "splitting oversized broadcast reply",
		"receiver", receiver,
		"size", msg.Size(),
		"keys", len(pairs),
	)

	first := wire.NewBroadcastReply(h.subject, h.typ, pairs[:1])
	if err := h.manager.send(first.Encode(), receiver); err != nil {
		return err
	}

	var sendErr error

	for _, p := range pairs[1:] {

		upd := wire.NewUpdate(h.subject, h.typ, []wire.Pair{p})
		if err := h.manager.send(upd.Encode(), receiver); err != nil && sendErr == nil {
			sendErr = err
		}
	}

	return sendErr
}
