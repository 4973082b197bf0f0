package shared

import (
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/shob/wire"
	"golang.org/x/exp/slices"
)

// Constants

// States of an object's transaction.
const (
	txIdle txState = iota
	txOpenAuto
	txOpenExplicit
	txClosing
)

// Structs

// txState tells whether a transaction is open and whether
// a caller opened it explicitly or a single mutation did.
type txState int

// Functions

// OpenTransaction starts buffering broadcast mutations of
// this object until CloseTransaction is called. It blocks
// while another transaction of this object is open.
func (h *Hash) OpenTransaction() {

	h.txLock.Lock()

	h.txStateLock.Lock()
	h.txState = txOpenExplicit
	h.txStateLock.Unlock()
}

// CloseTransaction sends the buffered mutations and
// releases the transaction. Concurrent callers closing
// the same transaction get ErrNoTransaction.
func (h *Hash) CloseTransaction() error {

	h.txStateLock.Lock()
	if h.txState != txOpenExplicit {
		h.txStateLock.Unlock()
		return ErrNoTransaction
	}

	// Only one caller gets to release txLock.
	h.txState = txClosing
	h.txStateLock.Unlock()

	defer h.txLock.Unlock()

	return h.closeTransactionLocked()
}

// addToTransaction records keys as updated or deleted.
// Keys join an explicitly opened transaction, otherwise
// a transaction is opened and closed just for them.
func (h *Hash) addToTransaction(keys []string, deletion bool) error {

	h.txStateLock.Lock()
	if h.txState == txOpenExplicit {
		h.markNoLock(keys, deletion)
		h.txStateLock.Unlock()
		return nil
	}
	h.txStateLock.Unlock()

	h.txLock.Lock()
	defer h.txLock.Unlock()

	h.txStateLock.Lock()
	h.txState = txOpenAuto
	h.markNoLock(keys, deletion)
	h.txStateLock.Unlock()

	return h.closeTransactionLocked()
}

// markNoLock moves keys into the update or the deletion
// set, never both. The caller holds the state lock.
func (h *Hash) markNoLock(keys []string, deletion bool) {

	for _, key := range keys {

		if deletion {
			delete(h.txKeys, key)
			h.txDeletions[key] = struct{}{}
		} else {
			delete(h.txDeletions, key)
			h.txKeys[key] = struct{}{}
		}
	}
}

// closeTransactionLocked empties both sets, returns to
// idle and sends what was buffered. The caller holds txLock.
func (h *Hash) closeTransactionLocked() error {

	h.txStateLock.Lock()

	keys := make([]string, 0, len(h.txKeys))
	for key := range h.txKeys {
		keys = append(keys, key)
	}

	deletions := make([]string, 0, len(h.txDeletions))
	for key := range h.txDeletions {
		deletions = append(deletions, key)
	}

	h.txKeys = make(map[string]struct{})
	h.txDeletions = make(map[string]struct{})
	h.txState = txIdle

	h.txStateLock.Unlock()

	slices.Sort(keys)
	slices.Sort(deletions)

	var sendErr error

	if len(keys) > 0 {
		sendErr = h.broadcastUpdate(keys)
	}

	if len(deletions) > 0 {

		msg := wire.NewDelete(h.subject, h.typ, deletions)
		if err := h.manager.send(msg.Encode(), h.queue); err != nil && sendErr == nil {
			sendErr = err
		}
	}

	return sendErr
}

// broadcastUpdate sends the current values of keys in one
// update, or one update per key if that would exceed the
// message size limit.
func (h *Hash) broadcastUpdate(keys []string) error {

	h.storeLock.RLock()
	pairs := h.snapshotNoLock(h.orderedNoLock(keys))
	h.storeLock.RUnlock()

	// Keys deleted without broadcast in the meantime.
	if len(pairs) == 0 {
		return nil
	}

	msg := wire.NewUpdate(h.subject, h.typ, pairs)
	if msg.Size() <= h.manager.maxMessageSize() || len(pairs) == 1 {
		return h.manager.send(msg.Encode(), h.queue)
	}

	level.Info(h.logger).Log(
		"msg", "splitting oversized transaction into one message per key",
		"size", msg.Size(),
		"keys", len(pairs),
	)

	var sendErr error

	for _, p := range pairs {

		single := wire.NewUpdate(h.subject, h.typ, []wire.Pair{p})
		if err := h.manager.send(single.Encode(), h.queue); err != nil && sendErr == nil {
			sendErr = err
		}
	}

	return sendErr
}
