/*
Package ports allocates host ports for service endpoints.

Each protocol owns a disjoint 1000-port range (tcp 30000-30999, udp
31000-31999). Allocation is a stateless ascending scan over the persisted
assignment set; uniqueness is enforced by the store at write time, not by
locking here. Concurrent allocators may pick the same free port, in which
case the loser sees storage.ErrPortTaken and retries with a fresh scan.
There is no automatic range growth; a full range is ErrRangeExhausted.
*/
package ports
