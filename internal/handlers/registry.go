package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"satwallet/internal/domain"
)

// DefaultFeeRate is the fee rate in satoshis per kilobyte used when a
// request does not name one.
const DefaultFeeRate uint64 = 50

// MaxFeeRate is the highest fee rate a request may name.
const MaxFeeRate uint64 = 1_000_000

// Approval says when a method needs a user decision.
type Approval int

const (
	// ApprovalNever dispatches without prompting.
	ApprovalNever Approval = iota
	// ApprovalAlways prompts on every request.
	ApprovalAlways
	// ApprovalUntilConnected prompts until the origin has connected.
	ApprovalUntilConnected
)

// Policy is the authorisation requirement of a method.
type Policy struct {
	Approval       Approval
	RequiresUnlock bool
}

// Func handles one approved call. Errors should be *domain.BridgeError;
// anything else is reported as bridge_error.
type Func func(ctx context.Context, call domain.Call) (any, error)

// Route binds a method to its policy and handler.
type Route struct {
	Policy Policy
	Func   Func
}

// Wallet is the vault surface the handlers use.
type Wallet interface {
	domain.DigestSigner
	Locked() bool
	HasKeys() bool
	Network() domain.Network
	Addresses() (domain.Addresses, error)
	PubKeys() (domain.PubKeys, error)
	Address(role domain.KeyRole) (domain.Address, error)
	SignMessage(role domain.KeyRole, msg []byte) (sig string, pubKey string, err error)
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(blob []byte) ([]byte, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithTxBuilder sets the transaction builder used by signing methods.
func WithTxBuilder(b domain.TxBuilder) Option { return func(r *Registry) { r.builder = b } }

// WithBroadcaster enables broadcast for signing methods.
func WithBroadcaster(b domain.Broadcaster) Option { return func(r *Registry) { r.broadcaster = b } }

// WithUTXOSource enables funding.
func WithUTXOSource(s domain.UTXOSource) Option { return func(r *Registry) { r.utxos = s } }

// WithFeeRate sets the default fee rate in satoshis per kilobyte.
func WithFeeRate(satsPerKB uint64) Option { return func(r *Registry) { r.feeRate = satsPerKB } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Registry) { r.log = l } }

// Registry maps methods to routes and keeps the set of connected origins.
type Registry struct {
	wallet      Wallet
	builder     domain.TxBuilder
	broadcaster domain.Broadcaster
	utxos       domain.UTXOSource
	feeRate     uint64
	log         *zap.Logger

	routes map[domain.Method]Route

	mu        sync.RWMutex
	connected map[string]time.Time
}

// New builds the registry of all bridge methods.
func New(w Wallet, opts ...Option) *Registry {
	r := &Registry{
		wallet:    w,
		feeRate:   DefaultFeeRate,
		log:       zap.NewNop(),
		connected: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	signing := Policy{Approval: ApprovalAlways, RequiresUnlock: true}
	r.routes = map[domain.Method]Route{
		domain.MethodStatus:      {Policy{Approval: ApprovalNever}, r.status},
		domain.MethodConnect:     {Policy{Approval: ApprovalUntilConnected}, r.connect},
		domain.MethodSignMessage: {signing, r.signMessage},
		domain.MethodSignTx:      {signing, r.signTx},
		domain.MethodFundTx:      {signing, r.fundTx},
		domain.MethodEncrypt:     {signing, r.encrypt},
		domain.MethodDecrypt:     {signing, r.decrypt},
		domain.MethodBapAlias:    {signing, r.bapAlias},
	}
	return r
}

// Lookup returns the route for m.
func (r *Registry) Lookup(m domain.Method) (Route, bool) {
	route, ok := r.routes[m]
	return route, ok
}

// NeedsApproval applies a route's approval policy to origin.
func (r *Registry) NeedsApproval(route Route, origin string) bool {
	switch route.Policy.Approval {
	case ApprovalNever:
		return false
	case ApprovalUntilConnected:
		return !r.Connected(origin)
	}
	return true
}

// Connected reports whether origin has completed wallet.connect.
func (r *Registry) Connected(origin string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connected[origin]
	return ok
}

// Disconnect forgets origin so its next connect prompts again.
func (r *Registry) Disconnect(origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connected, origin)
}

// ConnectedOrigins lists connected origins in sorted order.
func (r *Registry) ConnectedOrigins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.connected))
	for o := range r.connected {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// Features names the methods this wallet can currently serve.
func (r *Registry) Features() []string {
	out := make([]string, 0, len(domain.Methods))
	for _, m := range domain.Methods {
		switch m {
		case domain.MethodSignTx:
			if r.builder == nil {
				continue
			}
		case domain.MethodFundTx, domain.MethodBapAlias:
			if r.builder == nil || r.utxos == nil {
				continue
			}
		}
		out = append(out, m.String())
	}
	return out
}
