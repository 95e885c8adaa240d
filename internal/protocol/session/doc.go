// Package session owns the service object lifecycle on top of the cmif and
// tipc codecs.
//
// Ownership boundary:
// - owned sessions, override (borrowed) sessions and domain objects
// - clone, close, domain conversion and pointer buffer negotiation
// - the Dispatch builder that turns a declarative buffer/object/handle list
//   into one request
// - retry/backoff primitives for callers that wait on services
//
// A Service owns a kernel.Region for its call stream; one request is in
// flight per Service at a time. Domain objects share the region and handle
// of the session that hosts them. Cloning yields an independent Service that
// may be used from another goroutine.
package session
