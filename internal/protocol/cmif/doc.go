// Package cmif implements the pre-12.0.0 command dialect on top of hipc.
//
// Ownership boundary:
// - SFCI/SFCO headers and command types
// - domain in/out headers and object id arrays
// - request writers with map-alias, pointer and auto-select buffers
// - control (domain conversion, clone, pointer buffer query) and close requests
// - the server-side mirror used by the loopback kernel and ipcdump
package cmif
