package shared

import (
	"sync"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/go-pluto/shob/config"
)

// Structs

// sentMessage is one body handed to a recorder.
type sentMessage struct {
	body   string
	target string
}

// recorder is a transport that keeps all sent
// messages in memory and optionally fails.
type recorder struct {
	lock *sync.Mutex
	id   string
	sent []sentMessage
	fail error
}

// Functions

func newRecorder(id string) *recorder {

	return &recorder{
		lock: &sync.Mutex{},
		id:   id,
		sent: make([]sentMessage, 0),
	}
}

func (r *recorder) SendMessage(body string, target string) error {

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.fail != nil {
		return r.fail
	}

	r.sent = append(r.sent, sentMessage{
		body:   body,
		target: target,
	})

	return nil
}

func (r *recorder) ClientID() string {
	return r.id
}

// messages returns a copy of all recorded messages.
func (r *recorder) messages() []sentMessage {

	r.lock.Lock()
	defer r.lock.Unlock()

	msgs := make([]sentMessage, len(r.sent))
	copy(msgs, r.sent)

	return msgs
}

// bodies returns only the bodies of all recorded messages.
func (r *recorder) bodies() []string {

	msgs := r.messages()

	bodies := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		bodies = append(bodies, msg.body)
	}

	return bodies
}

func (r *recorder) reset() {

	r.lock.Lock()
	r.sent = make([]sentMessage, 0)
	r.lock.Unlock()
}

// newTestManager returns a manager sending through
// a fresh recorder named 'node-1'.
func newTestManager(t *testing.T, conf config.Shared) (*Manager, *recorder) {

	rec := newRecorder("node-1")

	m := NewManager(log.NewNopLogger(), rec, nil, conf)
	t.Cleanup(m.Shutdown)

	return m, rec
}
