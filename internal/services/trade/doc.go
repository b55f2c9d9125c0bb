// Package trade runs two-party trade negotiation over a shared store.
//
// A trade starts as a request from one user to another. Accepting it creates
// exactly one session, which moves negotiating -> ready -> completed, or to
// cancelled from any non-terminal state. Every change is a conditional write
// against the revision that was read, so two clients racing on one session
// never overwrite each other and a stale client cannot reopen a finished
// trade.
package trade
