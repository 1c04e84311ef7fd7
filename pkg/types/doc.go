/*
Package types defines the shared data model for the Cordon control plane.

All coordination state lives in these records, persisted through the storage
package so that any control-plane instance can serve any request. The types
here carry no behavior beyond small state predicates; mutation rules belong
to the components that own each record:

  - Host: status flipped by the heartbeat monitor, timestamp touched by the
    host's own heartbeat call.
  - Service: created and edited by operators; the control plane only reads it.
  - PlacementAssignment: replaced wholesale by planning passes, never patched.
  - Deployment: transitions only via agent-reported work completion.
  - WorkItem: strictly forward-moving, never reused once resolved.
  - PortAssignment: unique per (protocol, port), enforced at persistence time.

# State machines

Host status:

	pending -> online -> offline
	              ^         |
	              +---------+  (next heartbeat)

Work item status:

	pending -> processing -> completed
	                      -> failed

Deployment status:

	pending -> starting -> running -> healthy
	                 \        \
	                  +-> failed   +-> stopped
*/
package types
