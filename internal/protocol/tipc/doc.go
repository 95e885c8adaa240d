// Package tipc implements the 12.0.0+ command dialect on top of hipc.
//
// The command id travels in the hipc message type (id + 16), the payload
// starts directly at the data words, and the result code is the first data
// word of a reply. There is no magic, no domain support and no pointer
// buffer.
package tipc
