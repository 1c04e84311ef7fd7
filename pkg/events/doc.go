/*
Package events provides the in-process broker for fleet event notifications.

Completion handlers and the heartbeat monitor publish here; delivery is
best-effort fan-out to buffered subscriber channels. A slow subscriber is
skipped rather than blocking the publisher, so events must never carry
state a component depends on: they are notifications, not a log.
*/
package events
