// Package simulator runs client workloads against the simulated host
// services and serves their status over HTTP.
package simulator
