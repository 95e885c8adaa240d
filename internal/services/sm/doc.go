// Package sm is the client for the service manager, the broker that hands
// out sessions to every other named service.
//
// Ownership boundary:
// - connecting to the "sm:" port, waiting for it to come up
// - client registration and service handle lookup
// - service registration for processes that host services
package sm
