// Package kernel models the supervisor primitives the IPC core consumes.
//
// Ownership boundary:
// - session handles and the per-session message region
// - the blocking SendSyncRequest / CloseHandle / ConnectToNamedPort contract
// - kernel result codes
// - call recording middleware
//
// A Go process cannot issue the console's supervisor calls, so Kernel is an
// interface; loopback provides an in-process implementation.
package kernel
