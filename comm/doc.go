/*
Package comm moves wire bodies of shared objects between processes. A Transport
sends a body to a target, which is either the name of a single peer or the name
of a broadcast queue that maps to a set of peers. Delivery is best effort: there
is no acknowledgement beyond the RPC itself, no retry and no ordering guarantee
across connections. Two transports are provided, a gRPC based Sender/Receiver
pair for real deployments and an in-memory Hub for tests and single-process
setups.
*/
package comm
