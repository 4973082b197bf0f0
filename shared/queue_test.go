package shared

import (
	"testing"

	"github.com/go-pluto/shob/config"
	"github.com/go-pluto/shob/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestQueueOrder executes a white-box unit test on
// the insertion order kept by queues.
func TestQueueOrder(t *testing.T) {

	m, rec := newTestManager(t, config.Shared{})

	require.True(t, m.CreateSharedQueue("/eos/node-1/txq", "/eos/*/mgm"))
	q := m.GetQueue("/eos/node-1/txq")
	require.NotNil(t, q)
	assert.Equal(t, wire.TypeQueue, q.Type())

	for _, key := range []string{"z", "a", "m"} {
		_, err := q.PushBack(key, key+"-val", false)
		assert.Nil(t, err)
	}

	assert.Equal(t, []string{"z", "a", "m"}, q.Keys())

	// Setting a queued key keeps its position.
	_, err := q.PushBack("z", "again", false)
	assert.Nil(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, q.Keys())

	e, found := q.Front()
	assert.True(t, found)
	assert.Equal(t, "again", e.Value)
	assert.Equal(t, uint64(2), e.ChangeID)

	// Deleting from the middle keeps the rest in order.
	deleted, err := q.Delete("a", false)
	assert.True(t, deleted)
	assert.Nil(t, err)
	assert.Equal(t, []string{"z", "m"}, q.Keys())

	entries := q.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "m-val", entries[1].Value)

	// Clearing resets the order as well.
	assert.Nil(t, q.Clear(false))
	assert.Len(t, q.Keys(), 0)

	_, found = q.Front()
	assert.False(t, found)

	assert.Len(t, rec.messages(), 0)
}

// TestQueuePushPop executes a white-box unit test on
// PushBack() and PopFront() with broadcast.
func TestQueuePushPop(t *testing.T) {

	m, rec := newTestManager(t, config.Shared{})

	m.CreateSharedQueue("/txq", "q")
	q := m.GetQueue("/txq")

	// An empty key is replaced by a generated one.
	key, err := q.PushBack("", "job-1", true)
	assert.Nil(t, err)
	assert.Len(t, key, 36)
	assert.Equal(t, "job-1", q.Get(key))

	other, err := q.PushBack("", "job-2", true)
	assert.Nil(t, err)
	assert.NotEqual(t, key, other)

	assert.Equal(t, []string{
		"mqsh.cmd=update&mqsh.subject=/txq&mqsh.type=queue&mqsh.pairs=|" + key + "~job-1%1",
		"mqsh.cmd=update&mqsh.subject=/txq&mqsh.type=queue&mqsh.pairs=|" + other + "~job-2%1",
	}, rec.bodies())
	rec.reset()

	e, popped, err := q.PopFront(true)
	assert.True(t, popped)
	assert.Nil(t, err)
	assert.Equal(t, key, e.Key)
	assert.Equal(t, "job-1", e.Value)
	assert.Equal(t, []string{other}, q.Keys())

	assert.Equal(t, []string{
		"mqsh.cmd=delete&mqsh.subject=/txq&mqsh.type=queue&mqsh.keys=|" + key,
	}, rec.bodies())

	_, popped, err = q.PopFront(false)
	assert.True(t, popped)
	assert.Nil(t, err)

	// Popping an empty queue reports nothing.
	_, popped, err = q.PopFront(true)
	assert.False(t, popped)
	assert.Nil(t, err)
	assert.Len(t, rec.messages(), 1)
}

// TestQueueTransactionOrder executes a white-box unit
// test on queue keys being sent in insertion order.
func TestQueueTransactionOrder(t *testing.T) {

	m, rec := newTestManager(t, config.Shared{})

	m.CreateSharedQueue("/txq", "q")
	q := m.GetQueue("/txq")

	q.OpenTransaction()
	for _, key := range []string{"c", "a", "b"} {
		_, err := q.PushBack(key, key, true)
		assert.Nil(t, err)
	}
	assert.Nil(t, q.CloseTransaction())

	assert.Equal(t, []string{
		"mqsh.cmd=update&mqsh.subject=/txq&mqsh.type=queue&mqsh.pairs=|c~c%1|a~a%1|b~b%1",
	}, rec.bodies())
	rec.reset()

	assert.Nil(t, q.BroadCastEnvString("peerX"))
	assert.Equal(t, []string{
		"mqsh.cmd=bcreply&mqsh.subject=/txq&mqsh.type=queue&mqsh.pairs=|c~c%1|a~a%1|b~b%1",
	}, rec.bodies())
}

// TestQueueIncomingOrder executes a white-box unit test on
// the order of keys that arrive through messages.
func TestQueueIncomingOrder(t *testing.T) {

	m, _ := newTestManager(t, config.Shared{})

	err := m.ParseEnvMessage("mqsh.cmd=update&mqsh.subject=/txq&mqsh.type=queue&mqsh.pairs=|c~3%1|a~1%1|b~2%1")
	assert.Nil(t, err)

	q := m.GetQueue("/txq")
	require.NotNil(t, q)
	assert.Equal(t, []string{"c", "a", "b"}, q.Keys())

	// The hash registry is untouched.
	assert.Nil(t, m.GetHash("/txq"))

	// A broadcast reply replaces the queue contents.
	err = m.ParseEnvMessage("mqsh.cmd=bcreply&mqsh.subject=/txq&mqsh.type=queue&mqsh.pairs=|b~2%1|d~4%1")
	assert.Nil(t, err)
	assert.Equal(t, []string{"b", "d"}, q.Keys())
}
