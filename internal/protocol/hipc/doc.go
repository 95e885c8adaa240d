// Package hipc lays out and parses the generic kernel message that both
// command dialects are built on.
//
// Ownership boundary:
// - header, special header and pid placeholder
// - copy/move handle slots
// - static (X), send (A), receive (B), exchange (W) and receive list (C)
//   descriptors
// - data words and the 16-byte aligned raw payload span
//
// Compose writes sections in wire order; Parse walks the same order and
// rejects any region too short for what its header declares.
package hipc
