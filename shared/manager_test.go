package shared

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-pluto/shob/config"
	"github.com/go-pluto/shob/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functions

// TestRegistry executes a white-box unit test on
// creating, looking up and deleting shared objects.
func TestRegistry(t *testing.T) {

	m, rec := newTestManager(t, config.Shared{})

	assert.True(t, m.CreateSharedHash("/eos/node-1/fst", "/eos/*/mgm"))
	assert.False(t, m.CreateSharedHash("/eos/node-1/fst", "other"))
	assert.Equal(t, "/eos/*/mgm", m.GetHash("/eos/node-1/fst").BroadcastQueue())

	// Hashes and queues live in separate registries.
	assert.True(t, m.CreateSharedQueue("/eos/node-1/fst", "/eos/*/mgm"))
	assert.True(t, m.CreateSharedQueue("/eos/node-1/txq", "/eos/*/mgm"))

	assert.Equal(t, []string{"/eos/node-1/fst"}, m.Subjects(wire.TypeHash))
	assert.Equal(t, []string{"/eos/node-1/fst", "/eos/node-1/txq"}, m.Subjects(wire.TypeQueue))
	assert.Len(t, m.Subjects(wire.Type("list")), 0)

	assert.NotNil(t, m.GetObject("/eos/node-1/txq", wire.TypeQueue))
	assert.Nil(t, m.GetObject("/eos/node-1/txq", wire.TypeHash))
	assert.Nil(t, m.GetObject("/eos/node-1/txq", wire.Type("list")))

	// Deleting locally sends nothing.
	assert.True(t, m.DeleteSharedQueue("/eos/node-1/fst", false))
	assert.False(t, m.DeleteSharedQueue("/eos/node-1/fst", false))
	assert.NotNil(t, m.GetHash("/eos/node-1/fst"))
	assert.Len(t, rec.messages(), 0)

	// Deleting with broadcast tells the peers.
	assert.True(t, m.DeleteSharedHash("/eos/node-1/fst", true))
	assert.Nil(t, m.GetHash("/eos/node-1/fst"))

	msgs := rec.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "mqsh.cmd=remove&mqsh.subject=/eos/node-1/fst&mqsh.type=hash", msgs[0].body)
	assert.Equal(t, "/eos/*/mgm", msgs[0].target)
}

// TestMatchPrefix executes a white-box unit test
// on matchPrefix().
func TestMatchPrefix(t *testing.T) {

	m, _ := newTestManager(t, config.Shared{})

	m.CreateSharedHash("/eos/node-1/fst", "q")
	m.CreateSharedHash("/eos/node-1/fst/data01", "q")
	m.CreateSharedHash("/eos/node-2/fst", "q")
	m.CreateSharedQueue("/eos/node-1/txq", "q")

	assert.Len(t, m.matchPrefix("/eos/node-1/"), 3)
	assert.Len(t, m.matchPrefix("/eos/"), 4)
	assert.Len(t, m.matchPrefix("/mgm/"), 0)
}

// TestReplyQueue executes a white-box unit test on
// the broadcast queues given to auto-created objects.
func TestReplyQueue(t *testing.T) {

	tests := []struct {
		conf    config.Shared
		subject string
		queue   string
	}{
		{config.Shared{}, "/eos/host:1095/fst/data01", "/eos/host:1095/fst/data01"},
		{config.Shared{AutoReplyQueue: "/eos/*/mgm"}, "/eos/host:1095/fst/data01", "/eos/*/mgm"},
		{config.Shared{AutoReplyQueueDerive: true}, "/eos/host:1095/fst/data01", "/eos/host:1095/fst"},
		{config.Shared{AutoReplyQueueDerive: true}, "/eos/host:1095/fst", "/eos/host:1095/fst"},
		{config.Shared{AutoReplyQueueDerive: true}, "/eos/host", "/eos/host"},
		{config.Shared{AutoReplyQueueDerive: true, AutoReplyQueue: "/eos/*/mgm"}, "/eos/host", "/eos/*/mgm"},
		{config.Shared{AutoReplyQueueDerive: true}, "a/b/c/d", "a/b/c"},
		{config.Shared{AutoReplyQueueDerive: true}, "a/b/c/d/e", "a/b/c"},
		{config.Shared{AutoReplyQueueDerive: true}, "a/b/c", "a/b/c"},
		{config.Shared{AutoReplyQueueDerive: true}, "a/b", "a/b"},
		{config.Shared{AutoReplyQueueDerive: true}, "/eos/host:1095/fst/data01/extra", "/eos/host:1095/fst"},
	}

	for i, test := range tests {

		m, _ := newTestManager(t, test.conf)
		assert.Equalf(t, test.queue, m.replyQueue(test.subject), "test %d", i)
	}
}

// TestDumpSharedObjects executes a white-box unit
// test on DumpSharedObjects().
func TestDumpSharedObjects(t *testing.T) {

	m, _ := newTestManager(t, config.Shared{})

	m.CreateSharedHash("/b", "qb")
	m.CreateSharedHash("/a", "qa")
	m.CreateSharedQueue("/a", "qa")

	assert.Nil(t, m.GetHash("/a").Set("k", "v", false, false))
	assert.Nil(t, m.GetHash("/b").Set("k1", "v1", false, false))
	assert.Nil(t, m.GetHash("/b").Set("k2", "v2", false, false))

	var buf bytes.Buffer
	assert.Nil(t, m.DumpSharedObjects(&buf))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 6)

	assert.Equal(t, "subject=/a broadcastqueue=qa type=hash", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "key=k "))
	assert.Equal(t, "subject=/a broadcastqueue=qa type=queue", lines[2])
	assert.Equal(t, "subject=/b broadcastqueue=qb type=hash", lines[3])
	assert.True(t, strings.HasPrefix(lines[4], "key=k1 "))
	assert.True(t, strings.HasPrefix(lines[5], "key=k2 "))
}

// TestShutdown executes a white-box unit test
// on Shutdown().
func TestShutdown(t *testing.T) {

	m, _ := newTestManager(t, config.Shared{})

	m.CreateSharedHash("/a", "q")
	m.CreateSharedQueue("/b", "q")

	m.Shutdown()

	assert.Len(t, m.Subjects(wire.TypeHash), 0)
	assert.Len(t, m.Subjects(wire.TypeQueue), 0)

	// Shutting down twice is fine.
	m.Shutdown()
}
