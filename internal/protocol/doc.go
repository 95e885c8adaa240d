// Package protocol owns the result codes and error taxonomy shared by every
// IPC dialect.
//
// Ownership boundary:
// - raw result codes and their module/description split
// - transport, parse and service error classes
// - flattening to a single numeric code at ABI boundaries
//
// Wire codecs live in the hipc, cmif and tipc subpackages; the session object
// lifecycle lives in session.
package protocol
