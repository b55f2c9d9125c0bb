// Package relay provides an HTTP implementation of the chain collaborators
// used by satwallet: domain.Broadcaster and domain.UTXOSource.
//
// The default backend is the WhatsOnChain REST API. Supported operations:
//   - Broadcasting a raw transaction.
//   - Listing unspent outputs for an address.
//
// All requests are JSON over HTTP and accept a context for cancellation and
// deadlines. Non-2xx statuses are returned as errors with the HTTP method,
// path, status text and the first bytes of the body to aid diagnostics.
package relay
