package shared

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/shob/comm"
	"github.com/go-pluto/shob/config"
	"github.com/go-pluto/shob/wire"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Constants

// Defaults for unset configuration values.
const (
	DefaultMaxMessageSize = 2000000
	DefaultDumpInterval   = 10 * time.Second
)

// Structs

// Manager is the registry of all shared objects of one
// process. It dispatches incoming messages, owns the
// multiplexed transaction and the notification queue.
type Manager struct {
	logger    log.Logger
	metrics   *Metrics
	transport comm.Transport
	conf      config.Shared

	hashLock  *sync.RWMutex
	hashes    map[string]*Hash
	queueLock *sync.RWMutex
	queues    map[string]*Queue

	notifyLock    *sync.Mutex
	notifyEnabled bool
	watchKeys     map[string]struct{}
	notifications []Notification
	staged        []Notification
	notifySignal  chan struct{}

	// muxLock is held from opening to closing
	// a multiplexed transaction.
	muxLock      *sync.Mutex
	muxStateLock *sync.Mutex
	muxOpen      bool
	muxType      wire.Type
	muxQueue     string
	muxKeys      map[string]map[string]struct{}

	dumperLock   *sync.Mutex
	dumperCancel []context.CancelFunc
	dumperWG     *sync.WaitGroup

	shutdownOnce *sync.Once
	shutdown     chan struct{}
}

// Functions

// NewManager returns an empty registry that sends through
// transport. A nil transport makes every broadcast fail
// with ErrNoTransport. A nil metrics records nothing.
func NewManager(logger log.Logger, transport comm.Transport, metrics *Metrics, conf config.Shared) *Manager {

	if metrics == nil {
		metrics = NewDiscardMetrics()
	}

	if conf.MaxMessageSize <= 0 {
		conf.MaxMessageSize = DefaultMaxMessageSize
	}

	if conf.DumpInterval <= 0 {
		conf.DumpInterval = DefaultDumpInterval
	}

	m := &Manager{
		logger:        logger,
		metrics:       metrics,
		transport:     transport,
		conf:          conf,
		hashLock:      &sync.RWMutex{},
		hashes:        make(map[string]*Hash),
		queueLock:     &sync.RWMutex{},
		queues:        make(map[string]*Queue),
		notifyLock:    &sync.Mutex{},
		notifyEnabled: conf.EnableNotifications,
		watchKeys:     make(map[string]struct{}),
		notifications: make([]Notification, 0),
		staged:        make([]Notification, 0),
		notifySignal:  make(chan struct{}, 1),
		muxLock:       &sync.Mutex{},
		muxStateLock:  &sync.Mutex{},
		muxKeys:       make(map[string]map[string]struct{}),
		dumperLock:    &sync.Mutex{},
		dumperWG:      &sync.WaitGroup{},
		shutdownOnce:  &sync.Once{},
		shutdown:      make(chan struct{}),
	}

	for _, key := range conf.WatchKeys {
		m.watchKeys[key] = struct{}{}
	}

	return m
}

// CreateSharedHash registers a new hash. It returns
// false if a hash of that subject already exists.
func (m *Manager) CreateSharedHash(subject string, broadcastQueue string) bool {

	_, created := m.createHash(subject, broadcastQueue)

	return created
}

// CreateSharedQueue registers a new queue. It returns
// false if a queue of that subject already exists.
func (m *Manager) CreateSharedQueue(subject string, broadcastQueue string) bool {

	_, created := m.createQueue(subject, broadcastQueue)

	return created
}

// createHash returns the hash of subject and whether
// this call created it.
func (m *Manager) createHash(subject string, broadcastQueue string) (*Hash, bool) {

	m.hashLock.Lock()

	if h, exists := m.hashes[subject]; exists {
		m.hashLock.Unlock()
		return h, false
	}

	h := newHash(m, subject, broadcastQueue, wire.TypeHash)
	m.hashes[subject] = h
	m.metrics.Hashes.Set(float64(len(m.hashes)))

	m.hashLock.Unlock()

	level.Debug(m.logger).Log("msg", "created shared hash", "subject", subject, "queue", broadcastQueue)
	m.subjectChanged(NotifySubjectCreated, subject)

	return h, true
}

// createQueue returns the queue of subject and whether
// this call created it.
func (m *Manager) createQueue(subject string, broadcastQueue string) (*Queue, bool) {

	m.queueLock.Lock()

	if q, exists := m.queues[subject]; exists {
		m.queueLock.Unlock()
		return q, false
	}

	q := newQueue(m, subject, broadcastQueue)
	m.queues[subject] = q
	m.metrics.Queues.Set(float64(len(m.queues)))

	m.queueLock.Unlock()

	level.Debug(m.logger).Log("msg", "created shared queue", "subject", subject, "queue", broadcastQueue)
	m.subjectChanged(NotifySubjectCreated, subject)

	return q, true
}

// createObject creates subject in the registry of typ
// unless it exists and returns its Hash.
func (m *Manager) createObject(subject string, broadcastQueue string, typ wire.Type) *Hash {

	if typ == wire.TypeQueue {
		q, _ := m.createQueue(subject, broadcastQueue)
		return q.Hash
	}

	h, _ := m.createHash(subject, broadcastQueue)

	return h
}

// DeleteSharedHash removes a hash. With broadcast, peers
// are told to remove it as well. It returns false if no
// hash of that subject exists.
func (m *Manager) DeleteSharedHash(subject string, broadcast bool) bool {

	m.hashLock.Lock()

	h, exists := m.hashes[subject]
	if !exists {
		m.hashLock.Unlock()
		return false
	}

	delete(m.hashes, subject)
	m.metrics.Hashes.Set(float64(len(m.hashes)))

	m.hashLock.Unlock()

	m.removed(h, broadcast)

	return true
}

// DeleteSharedQueue removes a queue. With broadcast, peers
// are told to remove it as well. It returns false if no
// queue of that subject exists.
func (m *Manager) DeleteSharedQueue(subject string, broadcast bool) bool {

	m.queueLock.Lock()

	q, exists := m.queues[subject]
	if !exists {
		m.queueLock.Unlock()
		return false
	}

	delete(m.queues, subject)
	m.metrics.Queues.Set(float64(len(m.queues)))

	m.queueLock.Unlock()

	m.removed(q.Hash, broadcast)

	return true
}

// removed finishes the removal of h from its registry.
func (m *Manager) removed(h *Hash, broadcast bool) {

	level.Debug(m.logger).Log("msg", "removed shared object", "subject", h.subject, "type", h.typ)
	m.subjectChanged(NotifySubjectDeleted, h.subject)

	if !broadcast {
		return
	}

	msg := wire.NewRemove(h.subject, h.typ)
	if err := m.send(msg.Encode(), h.queue); err != nil {
		level.Warn(m.logger).Log(
			"msg", "failed to broadcast removal of shared object",
			"subject", h.subject,
			"err", err,
		)
	}
}

// GetObject returns the object of subject from the
// registry of typ, or nil. For queues, the underlying
// Hash is returned.
func (m *Manager) GetObject(subject string, typ wire.Type) *Hash {

	switch typ {

	case wire.TypeHash:
		return m.GetHash(subject)

	case wire.TypeQueue:
		if q := m.GetQueue(subject); q != nil {
			return q.Hash
		}
	}

	return nil
}

// GetHash returns the hash of subject or nil.
func (m *Manager) GetHash(subject string) *Hash {

	m.hashLock.RLock()
	defer m.hashLock.RUnlock()

	return m.hashes[subject]
}

// GetQueue returns the queue of subject or nil.
func (m *Manager) GetQueue(subject string) *Queue {

	m.queueLock.RLock()
	defer m.queueLock.RUnlock()

	return m.queues[subject]
}

// Subjects returns the sorted subjects of typ.
func (m *Manager) Subjects(typ wire.Type) []string {

	var subjects []string

	switch typ {

	case wire.TypeHash:
		m.hashLock.RLock()
		subjects = make([]string, 0, len(m.hashes))
		for subject := range m.hashes {
			subjects = append(subjects, subject)
		}
		m.hashLock.RUnlock()

	case wire.TypeQueue:
		m.queueLock.RLock()
		subjects = make([]string, 0, len(m.queues))
		for subject := range m.queues {
			subjects = append(subjects, subject)
		}
		m.queueLock.RUnlock()
	}

	slices.Sort(subjects)

	return subjects
}

// matchPrefix returns all hashes and queues whose
// subject starts with prefix.
func (m *Manager) matchPrefix(prefix string) []*Hash {

	matches := make([]*Hash, 0)

	m.hashLock.RLock()
	for subject, h := range m.hashes {
		if strings.HasPrefix(subject, prefix) {
			matches = append(matches, h)
		}
	}
	m.hashLock.RUnlock()

	m.queueLock.RLock()
	for subject, q := range m.queues {
		if strings.HasPrefix(subject, prefix) {
			matches = append(matches, q.Hash)
		}
	}
	m.queueLock.RUnlock()

	return matches
}

// replyQueue returns the broadcast queue given to objects
// that are created by an incoming message. If derivation
// is enabled, the subject is cut after its third path
// component: '/eos/host:1095/fst/data01' -> '/eos/host:1095/fst'.
// A leading slash is kept but does not count as component.
func (m *Manager) replyQueue(subject string) string {

	if m.conf.AutoReplyQueueDerive {

		rel := strings.TrimPrefix(subject, "/")

		parts := strings.SplitN(rel, "/", 4)
		if len(parts) >= 3 {
			return subject[:(len(subject) - len(rel))] + strings.Join(parts[:3], "/")
		}
	}

	if m.conf.AutoReplyQueue != "" {
		return m.conf.AutoReplyQueue
	}

	return subject
}

// DumpSharedObjects writes a block per subject to w:
// a header with subject, broadcast queue and type,
// followed by one line per key.
func (m *Manager) DumpSharedObjects(w io.Writer) error {

	m.hashLock.RLock()
	defer m.hashLock.RUnlock()

	m.queueLock.RLock()
	defer m.queueLock.RUnlock()

	objects := make([]*Hash, 0, (len(m.hashes) + len(m.queues)))
	for _, h := range m.hashes {
		objects = append(objects, h)
	}
	for _, q := range m.queues {
		objects = append(objects, q.Hash)
	}

	slices.SortFunc(objects, func(a, b *Hash) int {

		if a.subject != b.subject {
			return strings.Compare(a.subject, b.subject)
		}

		return strings.Compare(string(a.typ), string(b.typ))
	})

	for _, h := range objects {

		_, err := fmt.Fprintf(w, "subject=%s broadcastqueue=%s type=%s\n", h.subject, h.queue, h.typ)
		if err != nil {
			return err
		}

		if err := h.Dump(w); err != nil {
			return err
		}
	}

	return nil
}

// Shutdown stops all dumpers, wakes up notification
// consumers and empties the registries.
func (m *Manager) Shutdown() {

	m.shutdownOnce.Do(func() {

		close(m.shutdown)

		m.dumperLock.Lock()
		for _, cancel := range m.dumperCancel {
			cancel()
		}
		m.dumperCancel = nil
		m.dumperLock.Unlock()

		m.dumperWG.Wait()

		m.hashLock.Lock()
		m.hashes = make(map[string]*Hash)
		m.metrics.Hashes.Set(0)
		m.hashLock.Unlock()

		m.queueLock.Lock()
		m.queues = make(map[string]*Queue)
		m.metrics.Queues.Set(0)
		m.queueLock.Unlock()

		level.Info(m.logger).Log("msg", "shared object manager shut down")
	})
}

// send hands body to the transport.
func (m *Manager) send(body string, target string) error {

	if m.transport == nil {
		return ErrNoTransport
	}

	if err := m.transport.SendMessage(body, target); err != nil {
		return errors.Wrapf(err, "failed to send message to '%s'", target)
	}

	m.metrics.Sent.Add(1)

	return nil
}

// clientID returns the address peers reply to.
func (m *Manager) clientID() (string, error) {

	if m.transport == nil {
		return "", ErrNoTransport
	}

	return m.transport.ClientID(), nil
}

func (m *Manager) maxMessageSize() int {
	return m.conf.MaxMessageSize
}
