// Package presence tracks which trade partners are currently online.
//
// Entries expire when no heartbeat arrives within the TTL. Presence is only
// used to show liveness next to a trade; it plays no part in authorization.
package presence
