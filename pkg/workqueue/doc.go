/*
Package workqueue dispatches imperative instructions to agents.

The queue is pull-based: the control plane never connects to an agent.
Agents poll, claim their host's pending items (flipped to processing in the
same store transaction) and later report a terminal outcome. Resolution is
guarded the same way, so a replayed completion or one sent by the wrong
host fails with a conflict before any side effect runs.

	enqueue ──> pending ──claim──> processing ──complete──> completed
	                                           └─────────> failed

Side effects hang off resolution per kind (deployment status updates, route
syncs, events, post-manifest reconciles) and run asynchronously; the agent's
completion call returns once the resolution is durable.
*/
package workqueue
