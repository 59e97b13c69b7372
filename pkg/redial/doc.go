// Package redial keeps connections to static nodes alive.
//
// A Keeper runs one loop per static endpoint. The loop dials, waits for the
// resulting session to end, and dials again. Failed attempts are spaced with
// exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Reset to the initial delay once a session has been established
//
// Each delay gets up to 25% random jitter so that nodes restarted together
// do not redial in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// A dial that fails after the transport connected, for example because the
// handshake was rejected, does not reset the backoff.
package redial
