package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"satwallet/internal/domain"
	"satwallet/internal/handlers"
)

const (
	// DefaultPromptTimeout bounds how long a prompt may hold the slot.
	DefaultPromptTimeout = 2 * time.Minute
	// DefaultDispatchTimeout bounds one handler run, broadcast included.
	DefaultDispatchTimeout = time.Minute

	replayCacheSize = 4096
)

var (
	// ErrNoPending is returned by Resolve when no prompt with that id is waiting.
	ErrNoPending = errors.New("no pending prompt with that id")
	// ErrBusy is returned by Confirm while another prompt holds the slot.
	ErrBusy = errors.New("busy: another request is awaiting approval")
)

// MethodMigrateKeys labels the prompt shown before migrated keys are imported.
const MethodMigrateKeys domain.Method = "MIGRATE_KEYS"

// State is the gate's position in its cycle.
type State int

const (
	Idle State = iota
	AwaitingApproval
	Dispatching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingApproval:
		return "awaiting_approval"
	case Dispatching:
		return "dispatching"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Router resolves methods to routes and applies approval policy.
type Router interface {
	Lookup(m domain.Method) (handlers.Route, bool)
	NeedsApproval(route handlers.Route, origin string) bool
}

// LockState reports whether the vault keys are in memory.
type LockState interface {
	Locked() bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithPromptTimeout sets how long an unanswered prompt waits before it is rejected.
func WithPromptTimeout(d time.Duration) Option { return func(g *Gate) { g.promptTimeout = d } }

// WithDispatchTimeout bounds handler execution.
func WithDispatchTimeout(d time.Duration) Option { return func(g *Gate) { g.dispatchTimeout = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Gate) { g.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option { return func(g *Gate) { g.metrics = m } }

type pending struct {
	prompt   Prompt
	decision *Decision
}

// Gate turns inbound calls into at most one pending user decision and
// dispatches approved calls to their handler. Every accepted call is
// answered exactly once.
type Gate struct {
	router          Router
	lock            LockState
	prompter        Prompter
	log             *zap.Logger
	metrics         *Metrics
	promptTimeout   time.Duration
	dispatchTimeout time.Duration

	seen *lru.Cache

	mu      sync.Mutex
	state   State
	pending *pending

	wg sync.WaitGroup
}

// New builds a gate in the Idle state.
func New(router Router, lock LockState, prompter Prompter, opts ...Option) (*Gate, error) {
	seen, err := lru.New(replayCacheSize)
	if err != nil {
		return nil, err
	}
	g := &Gate{
		router:          router,
		lock:            lock,
		prompter:        prompter,
		log:             zap.NewNop(),
		promptTimeout:   DefaultPromptTimeout,
		dispatchTimeout: DefaultDispatchTimeout,
		seen:            seen,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(nil)
	}
	return g, nil
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Pending returns the prompt awaiting a decision, if any.
func (g *Gate) Pending() (Prompt, *Decision, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Prompt{}, nil, false
	}
	return g.pending.prompt, g.pending.decision, true
}

// Resolve answers the pending prompt with id.
func (g *Gate) Resolve(id string, approve bool) error {
	p, d, ok := g.Pending()
	if !ok || p.ID != id {
		return ErrNoPending
	}
	if approve {
		return d.Approve()
	}
	return d.Reject()
}

// Wait blocks until every in-flight call has been answered.
func (g *Gate) Wait() { g.wg.Wait() }

// Submit accepts one call. It never blocks on the user: the call is answered
// immediately, dispatched, or parked in the single prompt slot. Cancelling
// ctx rejects a parked call.
func (g *Gate) Submit(ctx context.Context, call domain.Call, respond func(domain.Response)) {
	log := g.log.With(
		zap.String("id", call.ID),
		zap.String("method", call.Method.String()),
		zap.String("origin", call.TransportOrigin),
	)
	if seen, _ := g.seen.ContainsOrAdd(call.TransportOrigin+"\x00"+call.ID, struct{}{}); seen {
		g.metrics.replays.Inc()
		log.Warn("dropping replayed request id")
		return
	}
	reply := g.once(call, respond, log)

	route, ok := g.router.Lookup(call.Method)
	if !ok {
		reply(domain.Failure(call.ID, domain.NewBridgeError(domain.CodeUnsupportedMethod, "unsupported method %q", call.Method)))
		return
	}
	if route.Policy.RequiresUnlock && g.lock.Locked() {
		reply(domain.Failure(call.ID, domain.NewBridgeError(domain.CodeWalletLocked, "wallet is locked")))
		return
	}
	if !g.router.NeedsApproval(route, call.TransportOrigin) {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.dispatch(ctx, route, call, reply, log)
		}()
		return
	}

	g.mu.Lock()
	if g.state != Idle {
		g.mu.Unlock()
		log.Info("gate busy")
		reply(domain.Failure(call.ID, domain.NewBridgeError(domain.CodeBridgeError, "%v", ErrBusy)))
		return
	}
	p := &pending{
		prompt: Prompt{
			ID:            call.ID,
			Method:        call.Method,
			Origin:        call.TransportOrigin,
			ClaimedOrigin: call.Origin,
			Intent:        call.Intent,
			Meta:          call.Meta,
		},
		decision: newDecision(),
	}
	g.state = AwaitingApproval
	g.pending = p
	g.mu.Unlock()
	g.metrics.awaiting.Set(1)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.await(ctx, route, call, p, reply, log)
	}()
}

// await holds the slot until the prompt is resolved, then dispatches or rejects.
func (g *Gate) await(ctx context.Context, route handlers.Route, call domain.Call, p *pending, reply func(domain.Response), log *zap.Logger) {
	defer g.toIdle()

	if !g.decide(ctx, p, log) {
		reply(domain.Failure(call.ID, domain.NewBridgeError(domain.CodeUserRejected, "request rejected")))
		return
	}

	g.mu.Lock()
	g.state = Dispatching
	g.mu.Unlock()
	if route.Policy.RequiresUnlock && g.lock.Locked() {
		reply(domain.Failure(call.ID, domain.NewBridgeError(domain.CodeWalletLocked, "wallet is locked")))
		return
	}
	g.dispatch(ctx, route, call, reply, log)
}

// decide shows p and waits for the user, the prompt timeout or ctx.
func (g *Gate) decide(ctx context.Context, p *pending, log *zap.Logger) bool {
	g.show(p, log)
	timer := time.NewTimer(g.promptTimeout)
	defer timer.Stop()

	var (
		approved bool
		outcome  string
	)
	select {
	case approved = <-p.decision.ch:
		outcome = "rejected"
		if approved {
			outcome = "approved"
		}
	case <-timer.C:
		approved, outcome = g.expire(p, "timeout")
	case <-ctx.Done():
		approved, outcome = g.expire(p, "disconnected")
	}
	g.metrics.prompt(outcome)
	log.Info("prompt resolved", zap.String("outcome", outcome))
	return approved
}

// Confirm asks the user to approve an action that is not a bridge method.
// It shares the single prompt slot with bridge calls and blocks until the
// prompt is answered, times out or ctx ends. ErrBusy is returned when
// another prompt holds the slot.
func (g *Gate) Confirm(ctx context.Context, pr Prompt) (bool, error) {
	log := g.log.With(
		zap.String("id", pr.ID),
		zap.String("method", pr.Method.String()),
		zap.String("origin", pr.Origin),
	)
	g.mu.Lock()
	if g.state != Idle {
		g.mu.Unlock()
		log.Info("gate busy")
		return false, ErrBusy
	}
	p := &pending{prompt: pr, decision: newDecision()}
	g.state = AwaitingApproval
	g.pending = p
	g.mu.Unlock()
	g.metrics.awaiting.Set(1)
	defer g.toIdle()

	return g.decide(ctx, p, log), nil
}

// ConfirmMigration asks whether keys handed over by origin may be imported.
func (g *Gate) ConfirmMigration(ctx context.Context, origin string) (bool, error) {
	return g.Confirm(ctx, Prompt{
		ID:     "migrate-" + uuid.NewString(),
		Method: MethodMigrateKeys,
		Origin: origin,
		Intent: "import the keys this page handed over into this wallet",
	})
}

// expire rejects p on the gate's behalf. If the user answered in the same
// instant their answer wins.
func (g *Gate) expire(p *pending, reason string) (bool, string) {
	if err := p.decision.resolve(false); errors.Is(err, ErrAlreadyResolved) {
		approved := <-p.decision.ch
		if approved {
			return true, "approved"
		}
		return false, "rejected"
	}
	<-p.decision.ch
	g.dismiss(p.prompt.ID, reason)
	return false, reason
}

func (g *Gate) show(p *pending, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("prompter panicked", zap.Any("panic", r))
			_ = p.decision.Reject()
		}
	}()
	g.prompter.Show(p.prompt, p.decision)
}

func (g *Gate) dismiss(id, reason string) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("prompter panicked on dismiss", zap.Any("panic", r))
		}
	}()
	g.prompter.Dismiss(id, reason)
}

func (g *Gate) toIdle() {
	g.mu.Lock()
	g.state = Idle
	g.pending = nil
	g.mu.Unlock()
	g.metrics.awaiting.Set(0)
}

// dispatch runs the handler. It is not interrupted by the caller going away;
// only the dispatch timeout bounds it.
func (g *Gate) dispatch(ctx context.Context, route handlers.Route, call domain.Call, reply func(domain.Response), log *zap.Logger) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.dispatchTimeout)
	defer cancel()

	result, err := g.invoke(dctx, route, call, log)
	if err != nil {
		reply(domain.Failure(call.ID, g.toBridgeError(err, log)))
		return
	}
	reply(domain.Success(call.ID, result))
}

func (g *Gate) invoke(ctx context.Context, route handlers.Route, call domain.Call, log *zap.Logger) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			result, err = nil, domain.NewBridgeError(domain.CodeBridgeError, "internal error")
		}
	}()
	return route.Func(ctx, call)
}

func (g *Gate) toBridgeError(err error, log *zap.Logger) *domain.BridgeError {
	if be, ok := domain.AsBridgeError(err); ok {
		return be
	}
	log.Error("handler failed", zap.Error(err))
	return domain.NewBridgeError(domain.CodeBridgeError, "internal error")
}

// once wraps respond so that only the first response for call is sent.
func (g *Gate) once(call domain.Call, respond func(domain.Response), log *zap.Logger) func(domain.Response) {
	var once sync.Once
	return func(resp domain.Response) {
		sent := false
		once.Do(func() {
			sent = true
			code := "ok"
			if resp.Error != nil {
				code = string(resp.Error.Code)
			}
			g.metrics.response(methodLabel(call.Method), code)
			respond(resp)
		})
		if !sent {
			log.Error("suppressed second response")
		}
	}
}

// methodLabel keeps metric cardinality bounded by page-supplied method names.
func methodLabel(m domain.Method) string {
	for _, known := range domain.Methods {
		if m == known {
			return m.String()
		}
	}
	return "unknown"
}
