package domain

import "context"

// KeyStore persists the encrypted wallet record.
type KeyStore interface {
	SaveKeys(rec KeyRecord) error
	LoadKeys() (KeyRecord, bool, error)
	DeleteKeys() error
}

// TradeStore is the shared reactive store holding trades and trade requests.
// UpdateSession and the request transitions are conditional: they return
// ErrConflict when the stored record no longer matches what the caller read.
type TradeStore interface {
	CreateRequest(ctx context.Context, req TradeRequest) error
	GetRequest(ctx context.Context, id string) (TradeRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]TradeRequest, error)
	// AcceptRequest marks a pending request accepted and inserts sess in one step.
	AcceptRequest(ctx context.Context, id string, sess TradeSession) error
	DeclineRequest(ctx context.Context, id string) error

	GetSession(ctx context.Context, id string) (TradeSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]TradeSession, error)
	// UpdateSession writes next only if the stored revision equals expected.
	UpdateSession(ctx context.Context, next TradeSession, expected uint64) error
}

// DigestSigner signs 32-byte digests with a vault key. Private keys never leave it.
type DigestSigner interface {
	SignDigest(role KeyRole, digest []byte) (der []byte, pubKey []byte, err error)
}

// TxBuilder is the opaque transaction construction capability.
type TxBuilder interface {
	// BuildTx appends inputs and outputs to base (nil starts a fresh
	// transaction) and returns the unsigned serialisation.
	BuildTx(ctx context.Context, base []byte, inputs []TxInput, outputs []TxOutput) ([]byte, error)
	// SignTx signs the requested inputs and returns the new serialisation.
	SignTx(ctx context.Context, raw []byte, reqs []SigRequest, signer DigestSigner) ([]byte, error)
	// Inspect summarises raw.
	Inspect(raw []byte) (TxSummary, error)
	// EstimateSize predicts the signed size of raw after adding extra inputs and outputs.
	EstimateSize(raw []byte, extraInputs, extraOutputs int) (int, error)
}

// Broadcaster submits signed transactions to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, raw []byte) (txid string, err error)
}

// UTXOSource lists spendable outputs for an address.
type UTXOSource interface {
	Unspent(ctx context.Context, addr Address) ([]UTXO, error)
}

// TradeAssembler builds the joint transaction once both parties have locked.
type TradeAssembler interface {
	Assemble(ctx context.Context, sess TradeSession) (txHex string, err error)
}

// Presence reports liveness of trade partners.
type Presence interface {
	Heartbeat(ctx context.Context, room, userID string) error
	List(ctx context.Context, room string) ([]Peer, error)
	Disconnect(ctx context.Context, room, userID string) error
	UpdateCursor(ctx context.Context, room, userID string, x, y float64) error
}
