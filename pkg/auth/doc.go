/*
Package auth admits agent-originated requests to the control plane.

Two mechanisms are supported behind one verification strategy selected per
registered host, so the two paths cannot drift:

  - Signed request: the agent sends x-host-id, a millisecond x-timestamp and
    an x-signature over "<timestamp>:<raw body>", verified against the
    host's registered Ed25519 public key. Timestamps more than five minutes
    from control-plane time are rejected regardless of signature validity.
  - Shared secret: a static per-host token compared in constant time. Kept
    for hosts enrolled before signing keys existed.

Every request is authenticated independently; there is no session state.
A failed admission returns ErrUnauthorized and must never be followed by a
state mutation.

The package also owns the agent-side signing helpers (KeyPair, SignRequest)
and host enrollment tokens (TokenManager). Join tokens are persisted in the
shared store so any control-plane peer can validate an enrollment.
*/
package auth
