// Package loopback is an in-process kernel: named ports, a session table,
// domains and the CMIF/TIPC server side, all behind kernel.System.
//
// Server objects see decoded requests and write replies into the caller's
// region, the way a real server does after the kernel copies a message
// across. Buffers and pointers alias the caller's memory directly.
package loopback
