/*
Package storage provides persistent state storage for the Cordon control
plane.

The control plane is stateless and horizontally replicable; every piece of
coordination state goes through the Store interface. Beyond plain CRUD the
interface carries the atomic conditional operations the core invariants
depend on:

	┌─────────────────── STORE GUARANTEES ────────────────────┐
	│                                                          │
	│  MarkStaleHosts      read + flip online->offline as one  │
	│                      operation; overlapping scans never  │
	│                      double-report a transition          │
	│                                                          │
	│  ClaimPendingWork    read + flip pending->processing as  │
	│                      one operation; at-most-once         │
	│                      dispatch under concurrent polls     │
	│                                                          │
	│  ResolveWorkItem     conditional processing->terminal;   │
	│                      replayed completions are rejected   │
	│                      without mutation                    │
	│                                                          │
	│  ReplaceAssignments  delete-all-then-insert of a         │
	│                      service's placement rows in one     │
	│                      transaction                         │
	│                                                          │
	│  CreatePortAssignment  uniqueness per (protocol, port)   │
	│                        enforced inside the transaction   │
	└──────────────────────────────────────────────────────────┘

BoltStore is the BoltDB-backed implementation. bbolt serializes write
transactions, which is exactly the single-writer atomicity the conditional
operations need; no additional locking exists anywhere in the store.

Callers distinguish failure modes through the package sentinels ErrNotFound,
ErrConflict and ErrPortTaken via errors.Is.
*/
package storage
