package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"satwallet/internal/domain"
)

// DefaultMaxRetries bounds re-fetch-and-retry for unpinned mutations.
const DefaultMaxRetries = 5

var (
	// ErrStale is returned when the session moved past what the caller observed.
	ErrStale = errors.New("trade changed since it was read")
	// ErrTerminal is returned for mutations of a completed or cancelled trade.
	ErrTerminal = errors.New("trade is closed")
	// ErrNotParty is returned when the acting user is not part of the trade.
	ErrNotParty = errors.New("user is not a party to this trade")
	// ErrPartyLocked is returned when a locked party tries to change their items.
	ErrPartyLocked = errors.New("items are locked; unlock first")
	// ErrRequestClosed is returned when a trade request was already answered.
	ErrRequestClosed = errors.New("trade request is no longer pending")
	// ErrSelfTrade is returned when a user invites themselves.
	ErrSelfTrade = errors.New("cannot trade with yourself")
	// ErrItemNotFound is returned when removing an item that is not offered.
	ErrItemNotFound = errors.New("item not in offer")
	// ErrDuplicateItem is returned when an item is offered twice.
	ErrDuplicateItem = errors.New("item already offered")
	// ErrInvalidItem is returned for an item without an id.
	ErrInvalidItem = errors.New("item id is required")
	// ErrNotReady is returned when a broadcast is recorded for a trade that is not ready.
	ErrNotReady = errors.New("trade is not ready")
	// ErrTxMismatch is returned when a broadcast transaction does not spend the locked items.
	ErrTxMismatch = errors.New("broadcast transaction does not match the locked trade")
	// ErrNoPresence is returned by PartnerOnline when no presence source is configured.
	ErrNoPresence = errors.New("presence not configured")
)

// Expect pins a mutation to what the caller observed. A zero Revision or
// empty Status leaves that part unpinned.
type Expect struct {
	Revision uint64
	Status   domain.TradeStatus
}

func (e Expect) pinned() bool { return e.Revision != 0 }

// Outcome is the result of broadcasting a trade transaction.
type Outcome struct {
	TxID  string
	RawTx string
	Err   error
}

// TxInspector summarises raw transactions.
type TxInspector interface {
	Inspect(raw []byte) (domain.TxSummary, error)
}

// Option configures a Service.
type Option func(*Service)

// WithAssembler builds the joint transaction once both parties lock.
func WithAssembler(a domain.TradeAssembler) Option { return func(s *Service) { s.assembler = a } }

// WithInspector enables matching broadcast transactions against the locked trade.
func WithInspector(i TxInspector) Option { return func(s *Service) { s.inspector = i } }

// WithPresence sets the presence source used by PartnerOnline.
func WithPresence(p domain.Presence) Option { return func(s *Service) { s.presence = p } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithIDs replaces the uuid generator.
func WithIDs(next func() string) Option { return func(s *Service) { s.newID = next } }

// WithMaxRetries bounds retries of unpinned mutations.
func WithMaxRetries(n int) Option { return func(s *Service) { s.maxRetries = n } }

// Service performs trade negotiation against a domain.TradeStore.
//
// The service holds no per-trade state; the store is the single source of
// truth and any number of services may share it.
type Service struct {
	store      domain.TradeStore
	assembler  domain.TradeAssembler
	inspector  TxInspector
	presence   domain.Presence
	log        *zap.Logger
	now        func() time.Time
	newID      func() string
	maxRetries int
}

// New constructs a trade Service on store.
func New(store domain.TradeStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		log:        zap.NewNop(),
		now:        time.Now,
		newID:      uuid.NewString,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestTrade invites to into a trade with from.
func (s *Service) RequestTrade(ctx context.Context, from, to string) (domain.TradeRequest, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return domain.TradeRequest{}, ErrNotParty
	}
	if from == to {
		return domain.TradeRequest{}, ErrSelfTrade
	}
	now := s.now().UTC()
	req := domain.TradeRequest{
		ID:         s.newID(),
		FromUserID: from,
		ToUserID:   to,
		Status:     domain.RequestPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return domain.TradeRequest{}, fmt.Errorf("create trade request: %w", err)
	}
	s.log.Info("trade requested", zap.String("request", req.ID), zap.String("from", from), zap.String("to", to))
	return req, nil
}

// AcceptRequest accepts a pending request on behalf of its recipient and
// creates the session. A request yields at most one session.
func (s *Service) AcceptRequest(ctx context.Context, requestID, by string) (domain.TradeSession, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.TradeSession{}, err
	}
	if req.ToUserID != by {
		return domain.TradeSession{}, ErrNotParty
	}
	if req.Status != domain.RequestPending {
		return domain.TradeSession{}, ErrRequestClosed
	}
	now := s.now().UTC()
	sess := domain.TradeSession{
		SessionID:        s.newID(),
		InitiatorID:      req.FromUserID,
		ParticipantID:    req.ToUserID,
		InitiatorItems:   []domain.AssetRef{},
		ParticipantItems: []domain.AssetRef{},
		Status:           domain.TradeNegotiating,
		Revision:         1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.AcceptRequest(ctx, requestID, sess); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.TradeSession{}, ErrRequestClosed
		}
		return domain.TradeSession{}, fmt.Errorf("accept trade request: %w", err)
	}
	s.log.Info("trade accepted", zap.String("request", requestID), zap.String("session", sess.SessionID))
	return sess, nil
}

// DeclineRequest declines (recipient) or withdraws (sender) a pending request.
func (s *Service) DeclineRequest(ctx context.Context, requestID, by string) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ToUserID != by && req.FromUserID != by {
		return ErrNotParty
	}
	if req.Status != domain.RequestPending {
		return ErrRequestClosed
	}
	if err := s.store.DeclineRequest(ctx, requestID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return ErrRequestClosed
		}
		return err
	}
	s.log.Info("trade declined", zap.String("request", requestID), zap.String("by", by))
	return nil
}

// Requests lists requests addressed to or sent by userID.
func (s *Service) Requests(ctx context.Context, userID string, status domain.RequestStatus) (incoming, outgoing []domain.TradeRequest, err error) {
	if incoming, err = s.store.ListRequests(ctx, domain.RequestFilter{ToUserID: userID, Status: status}); err != nil {
		return nil, nil, err
	}
	if outgoing, err = s.store.ListRequests(ctx, domain.RequestFilter{FromUserID: userID, Status: status}); err != nil {
		return nil, nil, err
	}
	return incoming, outgoing, nil
}

// Get returns a session.
func (s *Service) Get(ctx context.Context, sessionID string) (domain.TradeSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// List returns the sessions userID takes part in.
func (s *Service) List(ctx context.Context, userID string, status domain.TradeStatus) ([]domain.TradeSession, error) {
	return s.store.ListSessions(ctx, domain.SessionFilter{UserID: userID, Status: status})
}

// AddItem offers item on behalf of by.
//
// The change reopens negotiation: both locks and the transaction are
// cleared so each side must review the new set.
func (s *Service) AddItem(ctx context.Context, sessionID, by string, item domain.AssetRef, exp Expect) (domain.TradeSession, error) {
	if strings.TrimSpace(item.ID) == "" {
		return domain.TradeSession{}, ErrInvalidItem
	}
	return s.mutate(ctx, sessionID, exp, func(sess *domain.TradeSession) (bool, error) {
		items, err := s.editable(sess, by)
		if err != nil {
			return false, err
		}
		for _, it := range *items {
			if it.ID == item.ID {
				return false, ErrDuplicateItem
			}
		}
		*items = append(*items, item)
		return true, nil
	})
}

// RemoveItem withdraws an offered item on behalf of by. Reopening applies as
// for AddItem.
func (s *Service) RemoveItem(ctx context.Context, sessionID, by, itemID string, exp Expect) (domain.TradeSession, error) {
	return s.mutate(ctx, sessionID, exp, func(sess *domain.TradeSession) (bool, error) {
		items, err := s.editable(sess, by)
		if err != nil {
			return false, err
		}
		for i, it := range *items {
			if it.ID == itemID {
				*items = append((*items)[:i:i], (*items)[i+1:]...)
				return true, nil
			}
		}
		return false, ErrItemNotFound
	})
}

// editable checks that by may change their items and returns them. The
// session is reopened in place.
func (s *Service) editable(sess *domain.TradeSession, by string) (*[]domain.AssetRef, error) {
	if sess.Status.Terminal() {
		return nil, ErrTerminal
	}
	initiator, err := side(sess, by)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.TradeReady && locked(sess, initiator) {
		return nil, ErrPartyLocked
	}
	// Any change to either set voids the counterparty's agreement. A failed
	// edit is discarded by mutate, so reopening here is safe.
	reopen(sess)
	if initiator {
		return &sess.InitiatorItems, nil
	}
	return &sess.ParticipantItems, nil
}

// Lock marks by's offer as final. When both parties have locked and an
// assembler is configured the joint transaction is built and the trade
// becomes ready. An assembler failure keeps both locks and leaves the trade
// negotiating.
func (s *Service) Lock(ctx context.Context, sessionID, by string, exp Expect) (domain.TradeSession, error) {
	return s.mutate(ctx, sessionID, exp, func(sess *domain.TradeSession) (bool, error) {
		if sess.Status.Terminal() {
			return false, ErrTerminal
		}
		initiator, err := side(sess, by)
		if err != nil {
			return false, err
		}
		if sess.Status == domain.TradeReady || locked(sess, initiator) {
			return false, nil
		}
		if initiator {
			sess.InitiatorLocked = true
		} else {
			sess.ParticipantLocked = true
		}
		if sess.InitiatorLocked && sess.ParticipantLocked && s.assembler != nil {
			txHex, err := s.assembler.Assemble(ctx, *sess)
			if err != nil {
				s.log.Warn("assemble trade transaction", zap.String("session", sess.SessionID), zap.Error(err))
				return true, nil
			}
			sess.TransactionHex = txHex
			sess.Status = domain.TradeReady
		}
		return true, nil
	})
}

// AttachTransaction supplies the joint transaction for a trade both parties
// have locked, moving it to ready.
func (s *Service) AttachTransaction(ctx context.Context, sessionID, by, txHex string, exp Expect) (domain.TradeSession, error) {
	if strings.TrimSpace(txHex) == "" {
		return domain.TradeSession{}, errors.New("empty transaction")
	}
	return s.mutate(ctx, sessionID, exp, func(sess *domain.TradeSession) (bool, error) {
		if sess.Status.Terminal() {
			return false, ErrTerminal
		}
		if _, err := side(sess, by); err != nil {
			return false, err
		}
		if !sess.InitiatorLocked || !sess.ParticipantLocked {
			return false, ErrNotReady
		}
		if sess.Status == domain.TradeReady && sess.TransactionHex == txHex {
			return false, nil
		}
		sess.TransactionHex = txHex
		sess.Status = domain.TradeReady
		return true, nil
	})
}

// Unlock withdraws by's agreement. Both locks and the transaction are
// cleared so the other party has to re-review.
func (s *Service) Unlock(ctx context.Context, sessionID, by string, exp Expect) (domain.TradeSession, error) {
	return s.mutate(ctx, sessionID, exp, func(sess *domain.TradeSession) (bool, error) {
		if sess.Status.Terminal() {
			return false, ErrTerminal
		}
		if _, err := side(sess, by); err != nil {
			return false, err
		}
		if !sess.InitiatorLocked && !sess.ParticipantLocked && sess.Status == domain.TradeNegotiating {
			return false, nil
		}
		reopen(sess)
		return true, nil
	})
}

// Cancel ends the trade. Cancelling a cancelled trade is a no-op; a
// completed trade cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, sessionID, by string, exp Expect) (domain.TradeSession, error) {
	return s.mutate(ctx, sessionID, exp, func(sess *domain.TradeSession) (bool, error) {
		if _, err := side(sess, by); err != nil {
			return false, err
		}
		switch sess.Status {
		case domain.TradeCancelled:
			return false, nil
		case domain.TradeCompleted:
			return false, ErrTerminal
		}
		sess.Status = domain.TradeCancelled
		return true, nil
	})
}

// RecordBroadcast records the outcome of broadcasting a ready trade. Success
// completes it; a failed broadcast leaves it ready so it can be retried or
// cancelled.
func (s *Service) RecordBroadcast(ctx context.Context, sessionID string, out Outcome, exp Expect) (domain.TradeSession, error) {
	log := s.log.With(zap.String("session", sessionID))
	if out.Err != nil {
		log.Warn("trade broadcast failed", zap.Error(out.Err))
		return s.store.GetSession(ctx, sessionID)
	}
	if out.TxID == "" {
		return domain.TradeSession{}, errors.New("broadcast outcome has no txid")
	}
	sess, err := s.mutate(ctx, sessionID, exp, func(sess *domain.TradeSession) (bool, error) {
		switch {
		case sess.Status == domain.TradeCompleted && sess.TxID == out.TxID:
			return false, nil
		case sess.Status.Terminal():
			return false, ErrTerminal
		case sess.Status != domain.TradeReady:
			return false, ErrNotReady
		}
		if err := s.matches(*sess, out); err != nil {
			return false, err
		}
		sess.TxID = out.TxID
		sess.Status = domain.TradeCompleted
		return true, nil
	})
	if err == nil {
		log.Info("trade completed", zap.String("txid", out.TxID))
	}
	return sess, err
}

// matches checks that the broadcast transaction spends every input of the
// locked transaction. It is skipped without an inspector or raw tx.
func (s *Service) matches(sess domain.TradeSession, out Outcome) error {
	if s.inspector == nil || out.RawTx == "" {
		return nil
	}
	locked, err := inspectHex(s.inspector, sess.TransactionHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTxMismatch, err)
	}
	sent, err := inspectHex(s.inspector, out.RawTx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTxMismatch, err)
	}
	if sent.TxID != out.TxID {
		return fmt.Errorf("%w: txid %s does not match raw transaction", ErrTxMismatch, out.TxID)
	}
	spent := make(map[string]bool, len(sent.Outpoints))
	for _, op := range sent.Outpoints {
		spent[op] = true
	}
	for _, op := range locked.Outpoints {
		if !spent[op] {
			return fmt.Errorf("%w: input %s missing", ErrTxMismatch, op)
		}
	}
	return nil
}

// PartnerOnline reports whether the other party of the session has a live
// presence entry in the session's room.
func (s *Service) PartnerOnline(ctx context.Context, sessionID, by string) (bool, error) {
	if s.presence == nil {
		return false, ErrNoPresence
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	initiator, err := side(&sess, by)
	if err != nil {
		return false, err
	}
	partner := sess.InitiatorID
	if initiator {
		partner = sess.ParticipantID
	}
	peers, err := s.presence.List(ctx, sessionID)
	if err != nil {
		return false, err
	}
	for _, p := range peers {
		if p.UserID == partner {
			return true, nil
		}
	}
	return false, nil
}

// Heartbeat marks by as present in the session's room. Only parties may
// join a room.
func (s *Service) Heartbeat(ctx context.Context, sessionID, by string) error {
	if s.presence == nil {
		return ErrNoPresence
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := side(&sess, by); err != nil {
		return err
	}
	return s.presence.Heartbeat(ctx, sessionID, by)
}

// Leave removes by from the session's room.
func (s *Service) Leave(ctx context.Context, sessionID, by string) error {
	if s.presence == nil {
		return ErrNoPresence
	}
	return s.presence.Disconnect(ctx, sessionID, by)
}

// mutate applies fn to the freshest copy of the session and writes it back
// conditionally. fn reports whether it changed anything; unchanged sessions
// are returned without a write.
//
// A pinned Expect fails with ErrStale as soon as the stored session differs
// from it. An unpinned one re-reads and retries on a lost race.
func (s *Service) mutate(ctx context.Context, sessionID string, exp Expect, fn func(*domain.TradeSession) (bool, error)) (domain.TradeSession, error) {
	for attempt := 0; ; attempt++ {
		cur, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return domain.TradeSession{}, err
		}
		if exp.pinned() && cur.Revision != exp.Revision {
			return cur, ErrStale
		}
		if exp.Status != "" && cur.Status != exp.Status {
			return cur, ErrStale
		}
		next := cur.Clone()
		changed, err := fn(&next)
		if err != nil {
			return cur, err
		}
		if !changed {
			return cur, nil
		}
		next.Revision = cur.Revision + 1
		// updatedAt never moves backwards, whatever the writer's clock says.
		next.UpdatedAt = cur.UpdatedAt
		if t := s.now().UTC(); t.After(cur.UpdatedAt) {
			next.UpdatedAt = t
		}

		err = s.store.UpdateSession(ctx, next, cur.Revision)
		switch {
		case err == nil:
			return next, nil
		case !errors.Is(err, domain.ErrConflict):
			return cur, err
		case exp.pinned():
			return cur, ErrStale
		case attempt >= s.maxRetries:
			return cur, fmt.Errorf("trade %s: gave up after %d attempts: %w", sessionID, attempt+1, err)
		}
		s.log.Debug("trade update lost race; retrying", zap.String("session", sessionID), zap.Int("attempt", attempt+1))
	}
}

// side reports whether by is the initiator.
func side(sess *domain.TradeSession, by string) (initiator bool, err error) {
	switch by {
	case sess.InitiatorID:
		return true, nil
	case sess.ParticipantID:
		return false, nil
	}
	return false, ErrNotParty
}

func locked(sess *domain.TradeSession, initiator bool) bool {
	if initiator {
		return sess.InitiatorLocked
	}
	return sess.ParticipantLocked
}

func reopen(sess *domain.TradeSession) {
	sess.InitiatorLocked = false
	sess.ParticipantLocked = false
	sess.TransactionHex = ""
	sess.Status = domain.TradeNegotiating
}
