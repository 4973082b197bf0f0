package shared

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-pluto/shob/config"
	"github.com/go-pluto/shob/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestMuxTransaction executes a white-box unit test on
// batching two subjects into one multiplexed message.
func TestMuxTransaction(t *testing.T) {

	m, rec := newTestManager(t, config.Shared{})

	m.CreateSharedHash("a", "q")
	m.CreateSharedHash("b", "q")

	assert.Equal(t, ErrNoMuxTransaction, m.CloseMuxTransaction())

	require.Nil(t, m.OpenMuxTransaction(wire.TypeHash, ""))
	assert.Nil(t, m.GetHash("b").Set("x", "2", true, false))
	assert.Nil(t, m.GetHash("a").Set("x", "1", true, false))
	assert.Len(t, rec.messages(), 0)
	assert.Nil(t, m.CloseMuxTransaction())

	msgs := rec.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "q", msgs[0].target)
	assert.Equal(t, "mqsh.cmd=update&mqsh.subject=a%b&mqsh.type=hash&mqsh.pairs=|#0#x~1%1|#1#x~2%1", msgs[0].body)

	// Decoding yields one pair per subject.
	msg, err := wire.Decode(msgs[0].body)
	require.Nil(t, err)
	assert.Equal(t, []string{"a", "b"}, msg.Subjects)
	assert.Equal(t, []wire.Pair{
		{Subject: 0, Key: "x", Value: "1", ChangeID: 1},
		{Subject: 1, Key: "x", Value: "2", ChangeID: 1},
	}, msg.Pairs)

	// The buffer is empty after close.
	assert.Len(t, m.muxKeys, 0)
	open, _ := m.muxStatus()
	assert.False(t, open)
}

// TestMuxTargets executes a white-box unit test on the
// grouping of multiplexed subjects by broadcast target.
func TestMuxTargets(t *testing.T) {

	m, rec := newTestManager(t, config.Shared{})

	m.CreateSharedHash("a", "q1")
	m.CreateSharedHash("b", "q2")
	m.CreateSharedHash("c", "q1")

	require.Nil(t, m.OpenMuxTransaction(wire.TypeHash, ""))
	assert.Nil(t, m.GetHash("a").Set("k", "a", true, false))
	assert.Nil(t, m.GetHash("b").Set("k", "b", true, false))
	assert.Nil(t, m.GetHash("c").Set("k", "c", true, false))
	assert.Nil(t, m.CloseMuxTransaction())

	assert.Equal(t, []sentMessage{
		{
			body:   "mqsh.cmd=update&mqsh.subject=a%c&mqsh.type=hash&mqsh.pairs=|#0#k~a%1|#1#k~c%1",
			target: "q1",
		},
		{
			body:   "mqsh.cmd=update&mqsh.subject=b&mqsh.type=hash&mqsh.pairs=|#0#k~b%1",
			target: "q2",
		},
	}, rec.messages())
	rec.reset()

	// A fixed queue overrides the objects' own targets.
	require.Nil(t, m.OpenMuxTransaction(wire.TypeHash, "all"))
	assert.Nil(t, m.GetHash("a").Set("k", "a2", true, false))
	assert.Nil(t, m.GetHash("b").Set("k", "b2", true, false))

	// Subjects removed in the meantime are skipped.
	m.DeleteSharedHash("c", false)
	assert.Nil(t, m.GetHash("a").Set("l", "a3", true, false))
	assert.Nil(t, m.CloseMuxTransaction())

	assert.Equal(t, []sentMessage{
		{
			body:   "mqsh.cmd=update&mqsh.subject=a%b&mqsh.type=hash&mqsh.pairs=|#0#k~a2%2|#0#l~a3%1|#1#k~b2%2",
			target: "all",
		},
	}, rec.messages())
}

// TestMuxTypeMismatch executes a white-box unit test on
// objects of another type than the open transaction.
func TestMuxTypeMismatch(t *testing.T) {

	m, rec := newTestManager(t, config.Shared{})

	m.CreateSharedHash("h", "q")
	m.CreateSharedQueue("txq", "q")

	err := m.OpenMuxTransaction(wire.Type("list"), "")
	assert.Equal(t, wire.ErrUnknownType, errors.Cause(err))

	require.Nil(t, m.OpenMuxTransaction(wire.TypeHash, ""))

	// Rejected before anything changes.
	err = m.GetQueue("txq").Set("k", "v", true, false)
	assert.Equal(t, ErrMuxTypeMismatch, err)
	assert.Equal(t, 0, m.GetQueue("txq").Len())

	// Local mutations are not affected.
	assert.Nil(t, m.GetQueue("txq").Set("k", "v", false, false))

	// Deletions use the object's own transaction.
	deleted, err := m.GetQueue("txq").Delete("k", true)
	assert.True(t, deleted)
	assert.Nil(t, err)
	assert.Equal(t, []string{"mqsh.cmd=delete&mqsh.subject=txq&mqsh.type=queue&mqsh.keys=|k"}, rec.bodies())

	assert.Nil(t, m.CloseMuxTransaction())
}

// TestMuxReplacedBetweenSteps executes a white-box unit test
// on a Set whose multiplexed transaction is closed and
// replaced by one of another type after the type check.
func TestMuxReplacedBetweenSteps(t *testing.T) {

	m, rec := newTestManager(t, config.Shared{})

	m.CreateSharedHash("s", "q")
	m.CreateSharedQueue("s", "q")
	h := m.GetHash("s")

	// First half of a broadcast Set: the type check passes.
	require.Nil(t, m.OpenMuxTransaction(wire.TypeHash, ""))
	open, typ := m.muxStatus()
	require.True(t, open)
	require.Equal(t, wire.TypeHash, typ)

	h.storeLock.Lock()
	h.setNoLockNoBroadcast("k", "v")
	h.storeLock.Unlock()

	// Another routine swaps the transaction.
	require.Nil(t, m.CloseMuxTransaction())
	require.Nil(t, m.OpenMuxTransaction(wire.TypeQueue, ""))

	// Second half: the queue transaction refuses the hash
	// key, which then goes out through the hash itself.
	assert.False(t, m.muxAdd("s", "k", wire.TypeHash))
	require.Nil(t, h.addToTransaction([]string{"k"}, false))

	assert.Nil(t, m.CloseMuxTransaction())
	assert.Equal(t, []sentMessage{
		{body: "mqsh.cmd=update&mqsh.subject=s&mqsh.type=hash&mqsh.pairs=|k~v%1", target: "q"},
	}, rec.messages())

	// Keys of the right type are still taken.
	require.Nil(t, m.OpenMuxTransaction(wire.TypeQueue, ""))
	assert.True(t, m.muxAdd("s", "k", wire.TypeQueue))
	assert.False(t, m.muxAdd("s", "k", wire.TypeHash))
	assert.Nil(t, m.CloseMuxTransaction())
}

// TestMuxExclusive executes a white-box unit test on
// a second OpenMuxTransaction() waiting for the first
// transaction to close.
func TestMuxExclusive(t *testing.T) {

	m, rec := newTestManager(t, config.Shared{})

	m.CreateSharedHash("a", "q")

	require.Nil(t, m.OpenMuxTransaction(wire.TypeHash, ""))
	assert.Nil(t, m.GetHash("a").Set("x", "1", true, false))

	var opened int32

	go func() {

		if err := m.OpenMuxTransaction(wire.TypeHash, ""); err == nil {
			atomic.StoreInt32(&opened, 1)
		}
	}()

	// The second caller has to wait.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&opened))

	assert.Nil(t, m.CloseMuxTransaction())

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&opened) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The second transaction starts with an empty buffer.
	m.muxStateLock.Lock()
	assert.Len(t, m.muxKeys, 0)
	m.muxStateLock.Unlock()

	assert.Nil(t, m.CloseMuxTransaction())
	assert.Len(t, rec.messages(), 1)
}

// TestMuxSplit executes a white-box unit test on
// multiplexed messages exceeding the size limit.
func TestMuxSplit(t *testing.T) {

	m, rec := newTestManager(t, config.Shared{
		MaxMessageSize: 70,
	})

	m.CreateSharedHash("a", "q")
	m.CreateSharedHash("b", "q")

	require.Nil(t, m.OpenMuxTransaction(wire.TypeHash, ""))
	assert.Nil(t, m.GetHash("a").Set("x", "1", true, false))
	assert.Nil(t, m.GetHash("a").Set("y", "2", true, false))
	assert.Nil(t, m.GetHash("b").Set("x", "3", true, false))
	assert.Nil(t, m.CloseMuxTransaction())

	assert.Equal(t, []string{
		"mqsh.cmd=update&mqsh.subject=a&mqsh.type=hash&mqsh.pairs=|#0#x~1%1",
		"mqsh.cmd=update&mqsh.subject=a&mqsh.type=hash&mqsh.pairs=|#0#y~2%1",
		"mqsh.cmd=update&mqsh.subject=b&mqsh.type=hash&mqsh.pairs=|#0#x~3%1",
	}, rec.bodies())
}
