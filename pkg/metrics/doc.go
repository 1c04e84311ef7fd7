/*
Package metrics exposes the control plane's Prometheus instrumentation.

Counters are incremented where the event happens; fleet gauges (hosts,
services, deployments) are swept from the store by the Collector. Everything
registers on the default registry and is served at /metrics.
*/
package metrics
