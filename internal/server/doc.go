// Package server exposes the pipeline and both collections over a local
// HTTP API for the UI layer.
//
// The server owns a single-instance lock in the data directory, a chi router
// under /api, and an optional udev monitor that publishes camera hotplug
// events on the bus. Commands are forwarded to the pipeline orchestrator and
// their errors mapped onto HTTP status codes; deletes publish change events
// so other views refresh.
package server
