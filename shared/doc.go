/*
Package shared implements named key/value objects that are replicated between
processes over a message bus. A Manager is the registry of all shared objects
of one process. Mutations of a Hash or Queue are applied to the local store
first and then, buffered in a transaction, broadcast to the object's broadcast
queue. Incoming messages are handed to Manager.ParseEnvMessage which applies
them locally without broadcasting them again.

Locking order: a registry lock (hashes or queues) is always taken before the
store lock of an object. The transaction lock of an object and the Manager's
multiplexed transaction lock are never held together by the same call path.

Known limitation: mutations are applied locally before they are sent. If a
send fails, peers stay stale until the affected keys are broadcast again.
*/
package shared
