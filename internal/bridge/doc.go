// Package bridge frames and transports envelopes between an embedding page
// and the wallet.
//
// A Channel is bound to one Transport and to the origin that transport
// observed when the connection was made. Inbound frames are decoded and
// classified as requests, responses or legacy messages; anything else is
// answered with invalid_request. Accepted requests are tagged with the
// transport origin and handed to a Handler together with a one-shot
// respond function. The origin field inside a payload is advisory only.
//
// Two transports are provided: a WebSocket transport for pages served over
// HTTP and an in-memory Pipe used by tests and embedders.
package bridge
