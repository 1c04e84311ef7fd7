/*
Package placement implements spread placement for replicated services.

Spread is a pure function over a snapshot of healthy hosts: with N hosts and
T replicas, every host gets floor(T/N) and the first T mod N hosts (in
ascending id order) get one extra. Determinism of that order is load-bearing;
it decides which hosts absorb the remainder.

Engine wraps the store for callers that want a one-call plan over the live
host set. Neither path persists anything; recovery and deployment own the
ReplaceAssignments write.
*/
package placement
