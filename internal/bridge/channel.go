package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"satwallet/internal/domain"
)

const writeTimeout = 10 * time.Second

// Handler receives accepted requests. respond must be called exactly once
// per call; it may be called from any goroutine after Submit returns.
type Handler interface {
	Submit(ctx context.Context, call domain.Call, respond func(domain.Response))
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call domain.Call, respond func(domain.Response))

func (f HandlerFunc) Submit(ctx context.Context, call domain.Call, respond func(domain.Response)) {
	f(ctx, call, respond)
}

// Migrator imports keys handed over by a legacy page. It reports
// alreadyLoggedIn when the wallet already holds keys.
type Migrator interface {
	MigrateKeys(ctx context.Context, origin string, keys domain.MigrateKeysPayload) (alreadyLoggedIn bool, err error)
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel logger.
func WithLogger(l *zap.Logger) Option { return func(c *Channel) { c.log = l } }

// WithRateLimit bounds inbound requests to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Channel) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithMigrator enables MIGRATE_KEYS handling.
func WithMigrator(m Migrator) Option { return func(c *Channel) { c.migrator = m } }

// Channel is a duplex envelope exchange bound to one transport origin.
type Channel struct {
	t        Transport
	log      *zap.Logger
	limiter  *rate.Limiter
	migrator Migrator

	// ids accepted on this connection; only the read loop touches it.
	seen map[string]struct{}

	// migrating is set while a hand-over waits for the user.
	migrating atomic.Bool
	bg        sync.WaitGroup

	wmu sync.Mutex
}

// NewChannel binds a channel to t.
func NewChannel(t Transport, opts ...Option) *Channel {
	c := &Channel{
		t:       t,
		log:     zap.NewNop(),
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		seen:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("origin", t.Origin()))
	return c
}

// Origin returns the transport-observed origin.
func (c *Channel) Origin() string { return c.t.Origin() }

// Send writes one envelope. Concurrent sends are serialised.
func (c *Channel) Send(ctx context.Context, v any) error {
	b, err := Encode(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.t.Write(ctx, b)
}

// Close closes the underlying transport.
func (c *Channel) Close() error { return c.t.Close() }

// Serve reads frames until the transport closes or ctx ends. The context
// passed to h is cancelled when Serve returns, so pending work tied to this
// connection can be abandoned.
func (c *Channel) Serve(ctx context.Context, h Handler) error {
	defer c.bg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		data, err := c.t.Read(ctx)
		if err != nil {
			if isClosed(err) || ctx.Err() != nil {
				c.log.Debug("channel closed", zap.Error(err))
				return nil
			}
			return err
		}
		c.receive(ctx, h, data)
	}
}

func isClosed(err error) bool {
	if errors.Is(err, ErrClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

func (c *Channel) receive(ctx context.Context, h Handler, data []byte) {
	frame, err := Decode(data)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			c.log.Info("rejecting malformed frame", zap.String("id", de.ID), zap.String("reason", de.Reason))
			c.reply(domain.Failure(de.ID, de.BridgeError()))
		}
		return
	}

	switch frame.Kind {
	case FrameRequest:
		req := *frame.Request
		if _, dup := c.seen[req.ID]; dup {
			c.log.Warn("dropping replayed request id", zap.String("id", req.ID))
			return
		}
		if !c.limiter.Allow() {
			c.log.Warn("rate limited", zap.String("id", req.ID), zap.String("method", req.Method.String()))
			c.reply(domain.Failure(req.ID, domain.NewBridgeError(domain.CodeBridgeError, "rate limited")))
			return
		}
		if req.Origin != "" && req.Origin != c.t.Origin() {
			c.log.Info("payload origin differs from transport origin",
				zap.String("id", req.ID), zap.String("claimed", req.Origin))
		}
		c.seen[req.ID] = struct{}{}
		call := domain.Call{Request: req, TransportOrigin: c.t.Origin()}
		h.Submit(ctx, call, c.reply)
	case FrameResponse:
		c.log.Debug("ignoring inbound response", zap.String("id", frame.Response.ID))
	case FrameLegacy:
		c.legacy(ctx, *frame.Legacy)
	}
}

// reply sends resp, logging instead of failing when the peer is gone.
func (c *Channel) reply(resp domain.Response) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.Send(ctx, resp); err != nil {
		c.log.Warn("response not delivered", zap.String("id", resp.ID), zap.Error(err))
	}
}

func (c *Channel) legacy(ctx context.Context, msg domain.LegacyMessage) {
	switch msg.Type {
	case domain.LegacyCheckReady:
		c.sendLegacy(domain.LegacyReady)
	case domain.LegacyMigrateKeys:
		if c.migrator == nil {
			c.log.Info("ignoring MIGRATE_KEYS: migration disabled")
			return
		}
		var keys domain.MigrateKeysPayload
		if err := json.Unmarshal(msg.Payload, &keys); err != nil || keys.PayPk == "" || keys.OrdPk == "" {
			c.log.Info("ignoring MIGRATE_KEYS: malformed payload")
			return
		}
		// The user is asked first; the read loop keeps running meanwhile.
		if !c.migrating.CompareAndSwap(false, true) {
			c.log.Info("ignoring MIGRATE_KEYS: hand-over already in progress")
			return
		}
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			defer c.migrating.Store(false)
			c.migrate(ctx, keys)
		}()
	default:
		c.log.Debug("ignoring legacy message", zap.String("type", string(msg.Type)))
	}
}

func (c *Channel) migrate(ctx context.Context, keys domain.MigrateKeysPayload) {
	already, err := c.migrator.MigrateKeys(ctx, c.t.Origin(), keys)
	switch {
	case already:
		c.sendLegacy(domain.LegacyAlreadyLoggedIn)
	case err != nil:
		c.log.Warn("MIGRATE_KEYS failed", zap.Error(err))
	default:
		c.log.Info("keys migrated")
	}
}

func (c *Channel) sendLegacy(t domain.LegacyType) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.Send(ctx, domain.LegacyMessage{Type: t}); err != nil {
		c.log.Warn("legacy reply not delivered", zap.String("type", string(t)), zap.Error(err))
	}
}
