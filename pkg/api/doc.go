/*
Package api serves the control plane's HTTP surface.

Two audiences share one listener:

	/agent/*   pull-based agent traffic. Admission is per request: either
	           an Ed25519 signature over the raw body or the host's shared
	           secret, selected by what the host registered with. Discovery
	           and enrollment are the only unauthenticated paths.
	/v1/*      the operator API: services, hosts, deployments, work items,
	           ports, join tokens and the manual recovery trigger.

Plus /healthz, /readyz and Prometheus /metrics.

Domain errors map onto status codes in one place: unauthorized 401, not
found 404, conflicting transition 409, no healthy hosts or exhausted port
range 503.
*/
package api
