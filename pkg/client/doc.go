// Package client implements the agent side of the control plane API:
// discovery, enrollment, heartbeats and the pull-based work queue.
package client
