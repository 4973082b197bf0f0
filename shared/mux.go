package shared

import (
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/shob/wire"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Structs

// muxBatch collects the subjects and pairs of one
// multiplexed message.
type muxBatch struct {
	subjects []string
	pairs    []wire.Pair
}

// Functions

// OpenMuxTransaction starts batching broadcast mutations of
// all objects of typ into multiplexed messages. If queue is
// not empty, all batched subjects are sent there, otherwise
// to their own broadcast queues. It blocks while another
// multiplexed transaction is open.
func (m *Manager) OpenMuxTransaction(typ wire.Type, queue string) error {

	if !typ.Valid() {
		return errors.Wrapf(wire.ErrUnknownType, "type '%s'", typ)
	}

	m.muxLock.Lock()

	m.muxStateLock.Lock()
	m.muxOpen = true
	m.muxType = typ
	m.muxQueue = queue
	m.muxKeys = make(map[string]map[string]struct{})
	m.muxStateLock.Unlock()

	return nil
}

// muxStatus reports whether a multiplexed transaction
// is open and of which type.
func (m *Manager) muxStatus() (bool, wire.Type) {

	m.muxStateLock.Lock()
	defer m.muxStateLock.Unlock()

	return m.muxOpen, m.muxType
}

// muxAdd records key of subject as dirty. It returns
// false if no multiplexed transaction of typ is open.
func (m *Manager) muxAdd(subject string, key string, typ wire.Type) bool {

	m.muxStateLock.Lock()
	defer m.muxStateLock.Unlock()

	if !m.muxOpen || m.muxType != typ {
		return false
	}

	keys, exists := m.muxKeys[subject]
	if !exists {
		keys = make(map[string]struct{})
		m.muxKeys[subject] = keys
	}
	keys[key] = struct{}{}

	return true
}

// CloseMuxTransaction sends one multiplexed message per
// broadcast target and empties the buffer. Subjects
// removed while the transaction was open are skipped.
func (m *Manager) CloseMuxTransaction() error {

	m.muxStateLock.Lock()

	if !m.muxOpen {
		m.muxStateLock.Unlock()
		return ErrNoMuxTransaction
	}

	dirty := m.muxKeys
	typ := m.muxType
	queue := m.muxQueue

	m.muxKeys = make(map[string]map[string]struct{})
	m.muxOpen = false

	m.muxStateLock.Unlock()

	defer m.muxLock.Unlock()

	subjects := make([]string, 0, len(dirty))
	for subject := range dirty {
		subjects = append(subjects, subject)
	}
	slices.Sort(subjects)

	batches := make(map[string]*muxBatch)
	targets := make([]string, 0)

	for _, subject := range subjects {

		h := m.GetObject(subject, typ)
		if h == nil {
			level.Debug(m.logger).Log("msg", "skipping removed subject in multiplexed transaction", "subject", subject)
			continue
		}

		keys := make([]string, 0, len(dirty[subject]))
		for key := range dirty[subject] {
			keys = append(keys, key)
		}

		h.storeLock.RLock()
		pairs := h.snapshotNoLock(h.orderedNoLock(keys))
		h.storeLock.RUnlock()

		if len(pairs) == 0 {
			continue
		}

		target := queue
		if target == "" {
			target = h.queue
		}

		batch, exists := batches[target]
		if !exists {
			batch = &muxBatch{}
			batches[target] = batch
			targets = append(targets, target)
		}

		idx := len(batch.subjects)
		batch.subjects = append(batch.subjects, subject)

		for _, p := range pairs {
			p.Subject = idx
			batch.pairs = append(batch.pairs, p)
		}
	}

	var sendErr error

	for _, target := range targets {

		if err := m.sendMuxBatch(batches[target], typ, target); err != nil && sendErr == nil {
			sendErr = err
		}
	}

	return sendErr
}

// sendMuxBatch sends batch as one message, or one message
// per pair if that would exceed the message size limit.
func (m *Manager) sendMuxBatch(batch *muxBatch, typ wire.Type, target string) error {

	msg := wire.NewMuxUpdate(batch.subjects, typ, batch.pairs)
	if msg.Size() <= m.maxMessageSize() || len(batch.pairs) == 1 {
		return m.send(msg.Encode(), target)
	}

	level.Info(m.logger).Log(
		"msg", "splitting oversized multiplexed message into one message per key",
		"target", target,
		"size", msg.Size(),
		"keys", len(batch.pairs),
	)

	var sendErr error

	for _, p := range batch.pairs {

		subject := batch.subjects[p.Subject]
		p.Subject = 0

		single := wire.NewMuxUpdate([]string{subject}, typ, []wire.Pair{p})
		if err := m.send(single.Encode(), target); err != nil && sendErr == nil {
			sendErr = err
		}
	}

	return sendErr
}
