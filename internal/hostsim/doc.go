// Package hostsim runs simulated system services on a loopback kernel:
// the service manager, the performance manager and the settings service.
//
// The servers speak whatever dialect the host is booted with and keep just
// enough state to answer the commands the clients in internal/services send.
package hostsim
