package comm

import (
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Constants

// inboxSize is the number of bodies an endpoint
// buffers before senders block.
const inboxSize = 1024

// Structs

// Hub connects endpoints living in the same process.
// Bodies are delivered asynchronously and in the order
// they were sent to each endpoint.
type Hub struct {
	logger    log.Logger
	lock      *sync.RWMutex
	endpoints map[string]*Endpoint
	queues    map[string][]string
}

// Endpoint is the Transport of one hub member.
type Endpoint struct {
	hub       *Hub
	logger    log.Logger
	id        string
	inbox     chan string
	done      chan struct{}
	closeOnce *sync.Once
	wg        *sync.WaitGroup
}

// Functions

// NewHub returns a hub without members.
func NewHub(logger log.Logger) *Hub {

	return &Hub{
		logger:    logger,
		lock:      &sync.RWMutex{},
		endpoints: make(map[string]*Endpoint),
		queues:    make(map[string][]string),
	}
}

// Join adds a member named id that is reachable under
// its name and through each of queues.
func (hub *Hub) Join(id string, queues ...string) *Endpoint {

	e := &Endpoint{
		hub:       hub,
		logger:    log.With(hub.logger, "endpoint", id),
		id:        id,
		inbox:     make(chan string, inboxSize),
		done:      make(chan struct{}),
		closeOnce: &sync.Once{},
		wg:        &sync.WaitGroup{},
	}

	hub.lock.Lock()
	defer hub.lock.Unlock()

	hub.endpoints[id] = e

	for _, queue := range queues {
		hub.queues[queue] = append(hub.queues[queue], id)
	}

	return e
}

// leave removes e from the hub and all queues.
func (hub *Hub) leave(e *Endpoint) {

	hub.lock.Lock()
	defer hub.lock.Unlock()

	delete(hub.endpoints, e.id)

	for queue, members := range hub.queues {

		kept := make([]string, 0, len(members))
		for _, member := range members {

			if member != e.id {
				kept = append(kept, member)
			}
		}

		hub.queues[queue] = kept
	}
}

// Serve starts passing received bodies to handler
// in a background routine until Close is called.
func (e *Endpoint) Serve(handler Handler) {

	e.wg.Add(1)

	go func() {

		defer e.wg.Done()

		for {

			select {

			case <-e.done:
				return

			case body := <-e.inbox:

				if err := handler(body); err != nil {
					level.Debug(e.logger).Log("msg", "handler rejected body", "err", err)
				}
			}
		}
	}()
}

// SendMessage queues body at every member target resolves to.
func (e *Endpoint) SendMessage(body string, target string) error {

	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	e.hub.lock.RLock()

	peers, err := resolveTarget(e.id, target, func(name string) bool {
		_, exists := e.hub.endpoints[name]
		return exists
	}, e.hub.queues)
	if err != nil {
		e.hub.lock.RUnlock()
		return err
	}

	recipients := make([]*Endpoint, 0, len(peers))
	for _, peer := range peers {

		if r, exists := e.hub.endpoints[peer]; exists {
			recipients = append(recipients, r)
		}
	}

	e.hub.lock.RUnlock()

	for _, r := range recipients {

		// Members leaving in the meantime are skipped.
		select {
		case r.inbox <- body:
		case <-r.done:
		}
	}

	return nil
}

// ClientID returns the member name.
func (e *Endpoint) ClientID() string {
	return e.id
}

// Close leaves the hub and waits for Serve to return.
func (e *Endpoint) Close() {

	e.closeOnce.Do(func() {
		e.hub.leave(e)
		close(e.done)
	})

	e.wg.Wait()
}
