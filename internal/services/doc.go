// Package services holds the process-wide service registry and, in its
// subpackages, the clients for individual system services.
package services
