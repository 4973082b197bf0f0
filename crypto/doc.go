/*
Package crypto provides the basis for authenticated communication between shob
nodes. It builds the mutually verifying TLS configuration nodes use for their
gRPC connections and can generate the internal PKI such a setup needs.
*/
package crypto
