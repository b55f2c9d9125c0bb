package gate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"satwallet/internal/domain"
	"satwallet/internal/gate"
	"satwallet/internal/handlers"
)

const origin = "https://app.example"

type fakeRouter struct {
	routes map[domain.Method]handlers.Route
}

func (r *fakeRouter) Lookup(m domain.Method) (handlers.Route, bool) {
	route, ok := r.routes[m]
	return route, ok
}

func (r *fakeRouter) NeedsApproval(route handlers.Route, _ string) bool {
	return route.Policy.Approval != handlers.ApprovalNever
}

type fakeLock struct{ locked atomic.Bool }

func (l *fakeLock) Locked() bool { return l.locked.Load() }

type shown struct {
	prompt   gate.Prompt
	decision *gate.Decision
}

type fakePrompter struct {
	shown     chan shown
	dismissed chan string
}

func newPrompter() *fakePrompter {
	return &fakePrompter{shown: make(chan shown, 8), dismissed: make(chan string, 8)}
}

func (p *fakePrompter) Show(pr gate.Prompt, d *gate.Decision) { p.shown <- shown{pr, d} }
func (p *fakePrompter) Dismiss(id, _ string)                  { p.dismissed <- id }

// recorder collects responses and fails on a second response for an id.
type recorder struct {
	t    *testing.T
	mu   sync.Mutex
	got  map[string]domain.Response
	recv chan domain.Response
}

func newRecorder(t *testing.T) *recorder {
	return &recorder{t: t, got: map[string]domain.Response{}, recv: make(chan domain.Response, 32)}
}

func (r *recorder) respond(resp domain.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.got[resp.ID]; dup {
		r.t.Errorf("second response for %s", resp.ID)
	}
	r.got[resp.ID] = resp
	r.recv <- resp
}

func (r *recorder) next(t *testing.T) domain.Response {
	t.Helper()
	select {
	case resp := <-r.recv:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}
	return domain.Response{}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case resp := <-r.recv:
		t.Fatalf("unexpected response %+v", resp)
	case <-time.After(50 * time.Millisecond):
	}
}

type env struct {
	gate     *gate.Gate
	lock     *fakeLock
	prompter *fakePrompter
	rec      *recorder
	calls    atomic.Int32
}

func newEnv(t *testing.T, opts ...gate.Option) *env {
	t.Helper()
	e := &env{lock: &fakeLock{}, prompter: newPrompter(), rec: newRecorder(t)}
	signing := handlers.Policy{Approval: handlers.ApprovalAlways, RequiresUnlock: true}
	router := &fakeRouter{routes: map[domain.Method]handlers.Route{
		domain.MethodStatus: {Policy: handlers.Policy{Approval: handlers.ApprovalNever}, Func: func(context.Context, domain.Call) (any, error) {
			return map[string]bool{"locked": e.lock.Locked()}, nil
		}},
		domain.MethodSignMessage: {Policy: signing, Func: func(context.Context, domain.Call) (any, error) {
			e.calls.Add(1)
			return map[string]string{"signature": "sig"}, nil
		}},
		domain.MethodFundTx: {Policy: signing, Func: func(context.Context, domain.Call) (any, error) {
			return nil, domain.NewBridgeError(domain.CodeInsufficientFunds, "insufficient funds")
		}},
		domain.MethodSignTx: {Policy: signing, Func: func(context.Context, domain.Call) (any, error) {
			panic("boom")
		}},
		domain.MethodEncrypt: {Policy: signing, Func: func(context.Context, domain.Call) (any, error) {
			return nil, errors.New("disk on fire")
		}},
	}}
	opts = append([]gate.Option{
		gate.WithLogger(zaptest.NewLogger(t)),
		gate.WithMetrics(gate.NewMetrics(prometheus.NewRegistry())),
	}, opts...)
	g, err := gate.New(router, e.lock, e.prompter, opts...)
	require.NoError(t, err)
	e.gate = g
	t.Cleanup(g.Wait)
	return e
}

func call(id string, m domain.Method) domain.Call {
	return domain.Call{
		Request:         domain.Request{ID: id, Version: domain.ProtocolVersion, Method: m, Intent: "do " + id},
		TransportOrigin: origin,
	}
}

func (e *env) submit(ctx context.Context, c domain.Call) {
	e.gate.Submit(ctx, c, e.rec.respond)
}

func (e *env) nextPrompt(t *testing.T) shown {
	t.Helper()
	select {
	case s := <-e.prompter.shown:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no prompt shown")
	}
	return shown{}
}

func TestGate_ApproveDispatches(t *testing.T) {
	e := newEnv(t)
	e.submit(context.Background(), call("1", domain.MethodSignMessage))

	s := e.nextPrompt(t)
	require.Equal(t, "1", s.prompt.ID)
	require.Equal(t, origin, s.prompt.Origin)
	require.Equal(t, "do 1", s.prompt.Intent)
	require.Equal(t, gate.AwaitingApproval, e.gate.State())

	require.NoError(t, s.decision.Approve())
	require.ErrorIs(t, s.decision.Approve(), gate.ErrAlreadyResolved)
	require.ErrorIs(t, s.decision.Reject(), gate.ErrAlreadyResolved)

	resp := e.rec.next(t)
	require.True(t, resp.OK)
	require.Equal(t, int32(1), e.calls.Load())
	e.gate.Wait()
	require.Equal(t, gate.Idle, e.gate.State())
}

func TestGate_Reject(t *testing.T) {
	e := newEnv(t)
	e.submit(context.Background(), call("1", domain.MethodSignMessage))
	require.NoError(t, e.gate.Resolve("1", false))

	resp := e.rec.next(t)
	require.False(t, resp.OK)
	require.Equal(t, domain.CodeUserRejected, resp.Error.Code)
	require.Zero(t, e.calls.Load())
}

func TestGate_BusyWhileAwaiting(t *testing.T) {
	e := newEnv(t)
	e.submit(context.Background(), call("1", domain.MethodSignMessage))
	s := e.nextPrompt(t)

	e.submit(context.Background(), call("2", domain.MethodSignMessage))
	busy := e.rec.next(t)
	require.Equal(t, "2", busy.ID)
	require.Equal(t, domain.CodeBridgeError, busy.Error.Code)

	// Methods without approval are still served.
	e.submit(context.Background(), call("3", domain.MethodStatus))
	require.True(t, e.rec.next(t).OK)

	_, _, ok := e.gate.Pending()
	require.True(t, ok)
	require.NoError(t, s.decision.Approve())
	require.Equal(t, "1", e.rec.next(t).ID)
}

func TestGate_NeverMoreThanOnePrompt(t *testing.T) {
	e := newEnv(t, gate.WithPromptTimeout(time.Hour))
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.submit(context.Background(), call(string(rune('a'+i)), domain.MethodSignMessage))
		}(i)
	}
	wg.Wait()

	s := e.nextPrompt(t)
	select {
	case extra := <-e.prompter.shown:
		t.Fatalf("second prompt shown: %+v", extra.prompt)
	default:
	}
	for i := 0; i < n-1; i++ {
		require.Equal(t, domain.CodeBridgeError, e.rec.next(t).Error.Code)
	}
	require.NoError(t, s.decision.Approve())
	require.True(t, e.rec.next(t).OK)
	e.gate.Wait()
	require.Len(t, e.rec.got, n)
}

func TestGate_ReplayDropped(t *testing.T) {
	e := newEnv(t)
	e.submit(context.Background(), call("same", domain.MethodStatus))
	require.True(t, e.rec.next(t).OK)

	e.submit(context.Background(), call("same", domain.MethodStatus))
	e.rec.none(t)

	other := call("same", domain.MethodStatus)
	other.TransportOrigin = "https://other.example"
	e.submit(context.Background(), other)
	require.True(t, e.rec.next(t).OK)
}

func TestGate_LockedFailsFast(t *testing.T) {
	e := newEnv(t)
	e.lock.locked.Store(true)
	e.submit(context.Background(), call("1", domain.MethodSignMessage))
	resp := e.rec.next(t)
	require.Equal(t, domain.CodeWalletLocked, resp.Error.Code)
	require.Equal(t, gate.Idle, e.gate.State())

	e.submit(context.Background(), call("2", domain.MethodStatus))
	require.True(t, e.rec.next(t).OK)
}

func TestGate_LockedDuringPrompt(t *testing.T) {
	e := newEnv(t)
	e.submit(context.Background(), call("1", domain.MethodSignMessage))
	s := e.nextPrompt(t)
	e.lock.locked.Store(true)
	require.NoError(t, s.decision.Approve())
	require.Equal(t, domain.CodeWalletLocked, e.rec.next(t).Error.Code)
	require.Zero(t, e.calls.Load())
}

func TestGate_UnknownMethod(t *testing.T) {
	e := newEnv(t)
	e.submit(context.Background(), call("1", "wallet.mine"))
	require.Equal(t, domain.CodeUnsupportedMethod, e.rec.next(t).Error.Code)
}

func TestGate_Timeout(t *testing.T) {
	e := newEnv(t, gate.WithPromptTimeout(20*time.Millisecond))
	e.submit(context.Background(), call("1", domain.MethodSignMessage))
	s := e.nextPrompt(t)

	resp := e.rec.next(t)
	require.Equal(t, domain.CodeUserRejected, resp.Error.Code)
	require.Equal(t, "1", <-e.prompter.dismissed)
	require.ErrorIs(t, s.decision.Approve(), gate.ErrAlreadyResolved)
	e.gate.Wait()
	require.Equal(t, gate.Idle, e.gate.State())
}

func TestGate_DisconnectRejects(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	e.submit(ctx, call("1", domain.MethodSignMessage))
	e.nextPrompt(t)
	cancel()
	require.Equal(t, domain.CodeUserRejected, e.rec.next(t).Error.Code)
}

func TestGate_HandlerErrors(t *testing.T) {
	e := newEnv(t)
	cases := []struct {
		id   string
		m    domain.Method
		code domain.ErrorCode
		msg  string
	}{
		{"fund", domain.MethodFundTx, domain.CodeInsufficientFunds, "insufficient funds"},
		{"panic", domain.MethodSignTx, domain.CodeBridgeError, "internal error"},
		{"plain", domain.MethodEncrypt, domain.CodeBridgeError, "internal error"},
	}
	for _, tc := range cases {
		e.submit(context.Background(), call(tc.id, tc.m))
		require.NoError(t, e.nextPrompt(t).decision.Approve())
		resp := e.rec.next(t)
		require.Equal(t, tc.id, resp.ID)
		require.Equal(t, tc.code, resp.Error.Code)
		require.Equal(t, tc.msg, resp.Error.Message)
		e.gate.Wait()
		require.Equal(t, gate.Idle, e.gate.State())
	}
}

func TestGate_ResolveUnknownID(t *testing.T) {
	e := newEnv(t)
	require.ErrorIs(t, e.gate.Resolve("nope", true), gate.ErrNoPending)
}

func TestGate_ConfirmMigration(t *testing.T) {
	e := newEnv(t)
	type result struct {
		ok  bool
		err error
	}
	confirm := func(ctx context.Context) <-chan result {
		out := make(chan result, 1)
		go func() {
			ok, err := e.gate.ConfirmMigration(ctx, origin)
			out <- result{ok, err}
		}()
		return out
	}

	approved := confirm(context.Background())
	s := e.nextPrompt(t)
	require.Equal(t, gate.MethodMigrateKeys, s.prompt.Method)
	require.Equal(t, origin, s.prompt.Origin)
	require.Equal(t, gate.AwaitingApproval, e.gate.State())

	// The migration holds the only slot.
	e.submit(context.Background(), call("1", domain.MethodSignMessage))
	require.Equal(t, domain.CodeBridgeError, e.rec.next(t).Error.Code)
	_, err := e.gate.ConfirmMigration(context.Background(), origin)
	require.ErrorIs(t, err, gate.ErrBusy)

	require.NoError(t, e.gate.Resolve(s.prompt.ID, true))
	require.Equal(t, result{ok: true}, <-approved)
	require.Equal(t, gate.Idle, e.gate.State())

	declined := confirm(context.Background())
	require.NoError(t, e.nextPrompt(t).decision.Reject())
	require.Equal(t, result{}, <-declined)

	ctx, cancel := context.WithCancel(context.Background())
	gone := confirm(ctx)
	s = e.nextPrompt(t)
	cancel()
	require.Equal(t, result{}, <-gone)
	require.Equal(t, s.prompt.ID, <-e.prompter.dismissed)
	require.Equal(t, gate.Idle, e.gate.State())
}
