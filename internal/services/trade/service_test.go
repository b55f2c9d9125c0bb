package trade_test

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"satwallet/internal/domain"
	"satwallet/internal/presence"
	"satwallet/internal/services/trade"
	"satwallet/internal/store"
	"satwallet/internal/txbuilder"
)

const (
	alice = "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH"
	bob   = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
)

type fakeAssembler struct {
	calls atomic.Int32
	err   error
}

func (a *fakeAssembler) Assemble(_ context.Context, sess domain.TradeSession) (string, error) {
	a.calls.Add(1)
	if a.err != nil {
		return "", a.err
	}
	return "beef" + sess.SessionID[:4], nil
}

func newService(t *testing.T, s domain.TradeStore, opts ...trade.Option) *trade.Service {
	t.Helper()
	opts = append([]trade.Option{trade.WithLogger(zaptest.NewLogger(t))}, opts...)
	return trade.New(s, opts...)
}

func openTrade(t *testing.T, svc *trade.Service) domain.TradeSession {
	t.Helper()
	ctx := context.Background()
	req, err := svc.RequestTrade(ctx, alice, bob)
	require.NoError(t, err)
	sess, err := svc.AcceptRequest(ctx, req.ID, bob)
	require.NoError(t, err)
	return sess
}

func item(id string) domain.AssetRef {
	outpoint := strings.Repeat(id[:1], 64) + ":0"
	return domain.AssetRef{ID: id, Name: "item " + id, Type: "ordinal", UTXO: &outpoint}
}

func TestRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryTradeStore())

	_, err := svc.RequestTrade(ctx, alice, alice)
	require.ErrorIs(t, err, trade.ErrSelfTrade)

	req, err := svc.RequestTrade(ctx, alice, bob)
	require.NoError(t, err)
	require.Equal(t, domain.RequestPending, req.Status)

	_, err = svc.AcceptRequest(ctx, req.ID, alice)
	require.ErrorIs(t, err, trade.ErrNotParty)

	sess, err := svc.AcceptRequest(ctx, req.ID, bob)
	require.NoError(t, err)
	require.Equal(t, alice, sess.InitiatorID)
	require.Equal(t, bob, sess.ParticipantID)
	require.Equal(t, domain.TradeNegotiating, sess.Status)

	_, err = svc.AcceptRequest(ctx, req.ID, bob)
	require.ErrorIs(t, err, trade.ErrRequestClosed)
	require.ErrorIs(t, svc.DeclineRequest(ctx, req.ID, bob), trade.ErrRequestClosed)

	in, out, err := svc.Requests(ctx, bob, "")
	require.NoError(t, err)
	require.Len(t, in, 1)
	require.Empty(t, out)
}

func TestAcceptCreatesExactlyOneSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryTradeStore()
	svc := newService(t, st)
	req, err := svc.RequestTrade(ctx, alice, bob)
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AcceptRequest(ctx, req.ID, bob); err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), won.Load())

	sessions, err := svc.List(ctx, bob, "")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestDeclineAndWithdraw(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryTradeStore())

	req, err := svc.RequestTrade(ctx, alice, bob)
	require.NoError(t, err)
	require.ErrorIs(t, svc.DeclineRequest(ctx, req.ID, "mallory"), trade.ErrNotParty)
	require.NoError(t, svc.DeclineRequest(ctx, req.ID, bob))
	_, err = svc.AcceptRequest(ctx, req.ID, bob)
	require.ErrorIs(t, err, trade.ErrRequestClosed)

	req, err = svc.RequestTrade(ctx, alice, bob)
	require.NoError(t, err)
	require.NoError(t, svc.DeclineRequest(ctx, req.ID, alice))
}

func TestBothLockBecomesReady(t *testing.T) {
	ctx := context.Background()
	asm := &fakeAssembler{}
	svc := newService(t, store.NewMemoryTradeStore(), trade.WithAssembler(asm))
	sess := openTrade(t, svc)

	sess, err := svc.AddItem(ctx, sess.SessionID, alice, item("a"), trade.Expect{})
	require.NoError(t, err)
	sess, err = svc.AddItem(ctx, sess.SessionID, bob, item("b"), trade.Expect{})
	require.NoError(t, err)

	sess, err = svc.Lock(ctx, sess.SessionID, alice, trade.Expect{Revision: sess.Revision})
	require.NoError(t, err)
	require.True(t, sess.InitiatorLocked)
	require.Equal(t, domain.TradeNegotiating, sess.Status)
	require.Zero(t, asm.calls.Load())

	// Locking twice is a no-op.
	again, err := svc.Lock(ctx, sess.SessionID, alice, trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, sess.Revision, again.Revision)

	sess, err = svc.Lock(ctx, sess.SessionID, bob, trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, domain.TradeReady, sess.Status)
	require.NotEmpty(t, sess.TransactionHex)
	require.Equal(t, int32(1), asm.calls.Load())
}

func TestMutationAfterReadyReopens(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryTradeStore(), trade.WithAssembler(&fakeAssembler{}))
	sess := openTrade(t, svc)

	sess, err := svc.AddItem(ctx, sess.SessionID, alice, item("a"), trade.Expect{})
	require.NoError(t, err)
	_, err = svc.Lock(ctx, sess.SessionID, alice, trade.Expect{})
	require.NoError(t, err)

	// Alice is locked while negotiating: she must unlock first.
	_, err = svc.AddItem(ctx, sess.SessionID, alice, item("c"), trade.Expect{})
	require.ErrorIs(t, err, trade.ErrPartyLocked)

	sess, err = svc.Lock(ctx, sess.SessionID, bob, trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, domain.TradeReady, sess.Status)

	sess, err = svc.AddItem(ctx, sess.SessionID, alice, item("c"), trade.Expect{Status: domain.TradeReady})
	require.NoError(t, err)
	require.Equal(t, domain.TradeNegotiating, sess.Status)
	require.False(t, sess.InitiatorLocked)
	require.False(t, sess.ParticipantLocked)
	require.Empty(t, sess.TransactionHex)
	require.Len(t, sess.InitiatorItems, 2)
}

func TestItemEdits(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryTradeStore())
	sess := openTrade(t, svc)

	_, err := svc.AddItem(ctx, sess.SessionID, alice, domain.AssetRef{}, trade.Expect{})
	require.ErrorIs(t, err, trade.ErrInvalidItem)
	_, err = svc.AddItem(ctx, sess.SessionID, "mallory", item("m"), trade.Expect{})
	require.ErrorIs(t, err, trade.ErrNotParty)

	_, err = svc.AddItem(ctx, sess.SessionID, bob, item("b"), trade.Expect{})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, sess.SessionID, bob, item("b"), trade.Expect{})
	require.ErrorIs(t, err, trade.ErrDuplicateItem)

	_, err = svc.RemoveItem(ctx, sess.SessionID, bob, "zzz", trade.Expect{})
	require.ErrorIs(t, err, trade.ErrItemNotFound)
	sess, err = svc.RemoveItem(ctx, sess.SessionID, bob, "b", trade.Expect{})
	require.NoError(t, err)
	require.Empty(t, sess.ParticipantItems)
}

func TestEditVoidsCounterpartyLock(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryTradeStore(), trade.WithAssembler(&fakeAssembler{}))
	sess := openTrade(t, svc)

	_, err := svc.AddItem(ctx, sess.SessionID, bob, item("b"), trade.Expect{})
	require.NoError(t, err)
	sess, err = svc.Lock(ctx, sess.SessionID, alice, trade.Expect{})
	require.NoError(t, err)
	require.True(t, sess.InitiatorLocked)

	// Bob swaps his offer after Alice agreed to it.
	sess, err = svc.RemoveItem(ctx, sess.SessionID, bob, "b", trade.Expect{})
	require.NoError(t, err)
	require.False(t, sess.InitiatorLocked)
	sess, err = svc.AddItem(ctx, sess.SessionID, bob, item("z"), trade.Expect{})
	require.NoError(t, err)
	require.False(t, sess.InitiatorLocked)

	sess, err = svc.Lock(ctx, sess.SessionID, bob, trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, domain.TradeNegotiating, sess.Status)
	require.True(t, sess.ParticipantLocked)
	require.False(t, sess.InitiatorLocked)

	// A rejected edit leaves the locks alone.
	_, err = svc.RemoveItem(ctx, sess.SessionID, alice, "nope", trade.Expect{})
	require.ErrorIs(t, err, trade.ErrItemNotFound)
	got, err := svc.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	require.True(t, got.ParticipantLocked)
	require.Equal(t, sess.Revision, got.Revision)
}

func TestUpdatedAtNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := newService(t, store.NewMemoryTradeStore(), trade.WithClock(func() time.Time { return now }))
	sess := openTrade(t, svc)
	accepted := sess.UpdatedAt

	now = now.Add(-time.Hour)
	sess, err := svc.AddItem(ctx, sess.SessionID, alice, item("a"), trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, accepted, sess.UpdatedAt)
	require.EqualValues(t, 2, sess.Revision)

	now = now.Add(2 * time.Hour)
	sess, err = svc.AddItem(ctx, sess.SessionID, bob, item("b"), trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, now, sess.UpdatedAt)
}

func TestUnlockClearsBothLocks(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryTradeStore(), trade.WithAssembler(&fakeAssembler{}))
	sess := openTrade(t, svc)
	_, err := svc.AddItem(ctx, sess.SessionID, alice, item("a"), trade.Expect{})
	require.NoError(t, err)
	_, err = svc.Lock(ctx, sess.SessionID, alice, trade.Expect{})
	require.NoError(t, err)
	_, err = svc.Lock(ctx, sess.SessionID, bob, trade.Expect{})
	require.NoError(t, err)

	sess, err = svc.Unlock(ctx, sess.SessionID, bob, trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, domain.TradeNegotiating, sess.Status)
	require.False(t, sess.InitiatorLocked)
	require.False(t, sess.ParticipantLocked)
	require.Empty(t, sess.TransactionHex)
}

func TestAssemblerFailureKeepsLocks(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryTradeStore(), trade.WithAssembler(&fakeAssembler{err: errors.New("no utxo")}))
	sess := openTrade(t, svc)
	_, err := svc.Lock(ctx, sess.SessionID, alice, trade.Expect{})
	require.NoError(t, err)
	sess, err = svc.Lock(ctx, sess.SessionID, bob, trade.Expect{})
	require.NoError(t, err)
	require.True(t, sess.InitiatorLocked)
	require.True(t, sess.ParticipantLocked)
	require.Equal(t, domain.TradeNegotiating, sess.Status)

	sess, err = svc.AttachTransaction(ctx, sess.SessionID, alice, "deadbeef", trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, domain.TradeReady, sess.Status)
	require.Equal(t, "deadbeef", sess.TransactionHex)
}

func TestAttachRequiresBothLocks(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryTradeStore())
	sess := openTrade(t, svc)
	_, err := svc.Lock(ctx, sess.SessionID, alice, trade.Expect{})
	require.NoError(t, err)
	_, err = svc.AttachTransaction(ctx, sess.SessionID, alice, "deadbeef", trade.Expect{})
	require.ErrorIs(t, err, trade.ErrNotReady)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryTradeStore(), trade.WithAssembler(&fakeAssembler{}))

	t.Run("negotiating", func(t *testing.T) {
		sess := openTrade(t, svc)
		first, err := svc.Cancel(ctx, sess.SessionID, bob, trade.Expect{})
		require.NoError(t, err)
		require.Equal(t, domain.TradeCancelled, first.Status)

		again, err := svc.Cancel(ctx, sess.SessionID, alice, trade.Expect{})
		require.NoError(t, err)
		require.Equal(t, first.Revision, again.Revision)

		_, err = svc.Lock(ctx, sess.SessionID, alice, trade.Expect{})
		require.ErrorIs(t, err, trade.ErrTerminal)
		_, err = svc.AddItem(ctx, sess.SessionID, alice, item("a"), trade.Expect{})
		require.ErrorIs(t, err, trade.ErrTerminal)
	})

	t.Run("ready", func(t *testing.T) {
		sess := openTrade(t, svc)
		_, err := svc.Lock(ctx, sess.SessionID, alice, trade.Expect{})
		require.NoError(t, err)
		sess, err = svc.Lock(ctx, sess.SessionID, bob, trade.Expect{})
		require.NoError(t, err)
		require.Equal(t, domain.TradeReady, sess.Status)
		sess, err = svc.Cancel(ctx, sess.SessionID, alice, trade.Expect{Revision: sess.Revision})
		require.NoError(t, err)
		require.Equal(t, domain.TradeCancelled, sess.Status)
	})

	t.Run("completed", func(t *testing.T) {
		sess := openTrade(t, svc)
		_, err := svc.Lock(ctx, sess.SessionID, alice, trade.Expect{})
		require.NoError(t, err)
		_, err = svc.Lock(ctx, sess.SessionID, bob, trade.Expect{})
		require.NoError(t, err)
		sess, err = svc.RecordBroadcast(ctx, sess.SessionID, trade.Outcome{TxID: "ab"}, trade.Expect{})
		require.NoError(t, err)
		require.Equal(t, domain.TradeCompleted, sess.Status)

		_, err = svc.Cancel(ctx, sess.SessionID, alice, trade.Expect{})
		require.ErrorIs(t, err, trade.ErrTerminal)
		got, err := svc.Get(ctx, sess.SessionID)
		require.NoError(t, err)
		require.Equal(t, domain.TradeCompleted, got.Status)
	})
}

func TestStaleClientCannotReopen(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryTradeStore())
	sess := openTrade(t, svc)
	observed := sess.Revision

	_, err := svc.Cancel(ctx, sess.SessionID, alice, trade.Expect{Revision: observed})
	require.NoError(t, err)

	_, err = svc.Lock(ctx, sess.SessionID, bob, trade.Expect{Revision: observed})
	require.ErrorIs(t, err, trade.ErrStale)
	_, err = svc.Unlock(ctx, sess.SessionID, bob, trade.Expect{Status: domain.TradeNegotiating})
	require.ErrorIs(t, err, trade.ErrStale)
}

func TestRecordBroadcast(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryTradeStore(), trade.WithAssembler(&fakeAssembler{}))
	sess := openTrade(t, svc)

	_, err := svc.RecordBroadcast(ctx, sess.SessionID, trade.Outcome{TxID: "ab"}, trade.Expect{})
	require.ErrorIs(t, err, trade.ErrNotReady)

	_, err = svc.Lock(ctx, sess.SessionID, alice, trade.Expect{})
	require.NoError(t, err)
	sess, err = svc.Lock(ctx, sess.SessionID, bob, trade.Expect{})
	require.NoError(t, err)

	failed, err := svc.RecordBroadcast(ctx, sess.SessionID, trade.Outcome{Err: errors.New("mempool conflict")}, trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, domain.TradeReady, failed.Status)
	require.Equal(t, sess.Revision, failed.Revision)

	done, err := svc.RecordBroadcast(ctx, sess.SessionID, trade.Outcome{TxID: "ab"}, trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, domain.TradeCompleted, done.Status)
	require.Equal(t, "ab", done.TxID)

	// Reporting the same broadcast twice is harmless.
	again, err := svc.RecordBroadcast(ctx, sess.SessionID, trade.Outcome{TxID: "ab"}, trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, done.Revision, again.Revision)
}

// conflictingStore loses the first n conditional updates.
type conflictingStore struct {
	domain.TradeStore
	n atomic.Int32
}

func (s *conflictingStore) UpdateSession(ctx context.Context, next domain.TradeSession, expected uint64) error {
	if s.n.Add(-1) >= 0 {
		return domain.ErrConflict
	}
	return s.TradeStore.UpdateSession(ctx, next, expected)
}

func TestUnpinnedRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	st := &conflictingStore{TradeStore: store.NewMemoryTradeStore()}
	svc := newService(t, st, trade.WithMaxRetries(3))
	sess := openTrade(t, svc)

	st.n.Store(2)
	got, err := svc.AddItem(ctx, sess.SessionID, alice, item("a"), trade.Expect{})
	require.NoError(t, err)
	require.Len(t, got.InitiatorItems, 1)

	st.n.Store(10)
	_, err = svc.AddItem(ctx, sess.SessionID, alice, item("b"), trade.Expect{})
	require.ErrorIs(t, err, domain.ErrConflict)

	st.n.Store(1)
	_, err = svc.AddItem(ctx, sess.SessionID, alice, item("c"), trade.Expect{Revision: got.Revision})
	require.ErrorIs(t, err, trade.ErrStale)
}

func TestConcurrentEditsAreSerialized(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, store.NewMemoryTradeStore(), trade.WithMaxRetries(100))
	sess := openTrade(t, svc)

	ids := "abcdefghij"
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			by := alice
			if id[0]%2 == 0 {
				by = bob
			}
			if _, err := svc.AddItem(ctx, sess.SessionID, by, item(id), trade.Expect{}); err != nil {
				t.Errorf("add %s: %v", id, err)
			}
		}(ids[i : i+1])
	}
	wg.Wait()

	got, err := svc.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, len(ids), len(got.InitiatorItems)+len(got.ParticipantItems))
	require.Equal(t, sess.Revision+uint64(len(ids)), got.Revision)
}

func TestPartnerOnline(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	p := presence.NewMemory(presence.WithClock(func() time.Time { return now }))
	svc := newService(t, store.NewMemoryTradeStore(), trade.WithPresence(p))
	sess := openTrade(t, svc)

	online, err := svc.PartnerOnline(ctx, sess.SessionID, alice)
	require.NoError(t, err)
	require.False(t, online)

	require.NoError(t, svc.Heartbeat(ctx, sess.SessionID, bob))
	online, err = svc.PartnerOnline(ctx, sess.SessionID, alice)
	require.NoError(t, err)
	require.True(t, online)

	require.ErrorIs(t, svc.Heartbeat(ctx, sess.SessionID, "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"), trade.ErrNotParty)

	require.NoError(t, svc.Leave(ctx, sess.SessionID, bob))
	online, err = svc.PartnerOnline(ctx, sess.SessionID, alice)
	require.NoError(t, err)
	require.False(t, online)

	_, err = newService(t, store.NewMemoryTradeStore()).PartnerOnline(ctx, sess.SessionID, alice)
	require.ErrorIs(t, err, trade.ErrNoPresence)
}

func TestSwapAssemblerAndBroadcastMatch(t *testing.T) {
	ctx := context.Background()
	builder := txbuilder.New()
	svc := newService(t, store.NewMemoryTradeStore(),
		trade.WithAssembler(trade.NewSwapAssembler(builder, nil)),
		trade.WithInspector(builder),
	)
	sess := openTrade(t, svc)

	amount := "1000"
	payment := item("b")
	payment.Type = "bsv"
	payment.Amount = &amount
	_, err := svc.AddItem(ctx, sess.SessionID, alice, item("a"), trade.Expect{})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, sess.SessionID, bob, payment, trade.Expect{})
	require.NoError(t, err)
	_, err = svc.Lock(ctx, sess.SessionID, alice, trade.Expect{})
	require.NoError(t, err)
	sess, err = svc.Lock(ctx, sess.SessionID, bob, trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, domain.TradeReady, sess.Status)

	raw, err := hex.DecodeString(sess.TransactionHex)
	require.NoError(t, err)
	sum, err := builder.Inspect(raw)
	require.NoError(t, err)
	require.Equal(t, 2, sum.InputCount)
	require.Equal(t, uint64(1001), sum.OutputTotal)

	// A transaction that does not spend the locked inputs is refused.
	other, err := builder.BuildTx(ctx, nil,
		[]domain.TxInput{{UTXO: domain.UTXO{TxID: strings.Repeat("c", 64), Vout: 0, Satoshis: 5}}},
		[]domain.TxOutput{{Address: alice, Satoshis: 4}})
	require.NoError(t, err)
	otherSum, err := builder.Inspect(other)
	require.NoError(t, err)
	_, err = svc.RecordBroadcast(ctx, sess.SessionID,
		trade.Outcome{TxID: otherSum.TxID, RawTx: hex.EncodeToString(other)}, trade.Expect{})
	require.ErrorIs(t, err, trade.ErrTxMismatch)

	// The funded transaction keeps the swap inputs and adds a fee input.
	funded, err := builder.BuildTx(ctx, raw,
		[]domain.TxInput{{UTXO: domain.UTXO{TxID: strings.Repeat("d", 64), Vout: 1, Satoshis: 500}}}, nil)
	require.NoError(t, err)
	fundedSum, err := builder.Inspect(funded)
	require.NoError(t, err)
	done, err := svc.RecordBroadcast(ctx, sess.SessionID,
		trade.Outcome{TxID: fundedSum.TxID, RawTx: hex.EncodeToString(funded)}, trade.Expect{})
	require.NoError(t, err)
	require.Equal(t, domain.TradeCompleted, done.Status)
	require.Equal(t, fundedSum.TxID, done.TxID)
}

func TestSwapAssemblerRejectsItemsWithoutUTXO(t *testing.T) {
	asm := trade.NewSwapAssembler(txbuilder.New(), nil)
	_, err := asm.Assemble(context.Background(), domain.TradeSession{
		InitiatorID:    alice,
		ParticipantID:  bob,
		InitiatorItems: []domain.AssetRef{{ID: "x"}},
	})
	require.ErrorIs(t, err, trade.ErrItemNotSpendable)
}
