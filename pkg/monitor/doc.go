/*
Package monitor turns missed heartbeats into recovery.

The sweep loop asks the store to flip every online host silent past the
threshold to offline in one conditional operation, so two sweeps (or two
control-plane peers) can never both claim the same transition. Flipped
hosts feed the recovery planner, which re-plans each affected service over
the surviving healthy hosts:

	heartbeats ──> sweep ──flip──> offline hosts
	                                  │
	                                  v
	                        affected services ──> re-plan ──> reconcile

Recovery is deliberately conservative: only services that opted into
system placement and carry no host-local state are moved, services are
handled strictly one at a time, and a failure on one is recorded and
skipped rather than aborting the pass.
*/
package monitor
