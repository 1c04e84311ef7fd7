/*
Package deploy converges a service's deployments toward its placement plan.

The reconciler never talks to an agent. It writes intent: pending Deployment
rows and the work items that carry deploy and stop instructions. Agents pick
those up through the work queue and report back through completions, which
is where Deployment rows change status.

	assignments ──> Reconcile ──> deployments (pending)
	                          └─> work items (deploy / stop)
*/
package deploy
