// Package device holds the static device registry.
//
// Devices are declared in configuration (id, transport, address, dialect)
// and loaded into an in-memory registry at startup. The registry is the
// gateway's single source of device identity; runtime connection state is
// owned by each device's connection and surfaced through gateway health
// snapshots, never by mutating registry entries from worker goroutines.
//
// Device persistence, discovery and provisioning are explicitly out of
// scope; an external system owns those workflows and feeds this registry
// through the configuration file.
package device
