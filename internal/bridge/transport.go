package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("transport closed")

// Transport moves whole frames in both directions. Origin is the security
// origin the transport itself observed, not one claimed by the peer.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Origin() string
	Close() error
}

// maxFrameSize bounds inbound frames. Raw transactions are the largest payloads.
const maxFrameSize = 4 << 20

// WebSocketTransport carries frames as text messages on a WebSocket.
type WebSocketTransport struct {
	conn   *websocket.Conn
	origin string
}

// AcceptWebSocket upgrades r. Only origins matching patterns are accepted;
// the Origin header becomes the transport origin.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, patterns []string) (*WebSocketTransport, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: patterns})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameSize)
	return &WebSocketTransport{conn: conn, origin: r.Header.Get("Origin")}, nil
}

// NewWebSocketTransport wraps an established connection.
func NewWebSocketTransport(conn *websocket.Conn, origin string) *WebSocketTransport {
	conn.SetReadLimit(maxFrameSize)
	return &WebSocketTransport{conn: conn, origin: origin}
}

func (t *WebSocketTransport) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, b, err := t.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return b, nil
		}
	}
}

func (t *WebSocketTransport) Write(ctx context.Context, frame []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, frame)
}

func (t *WebSocketTransport) Origin() string { return t.origin }

func (t *WebSocketTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}

// Pipe is an in-memory Transport end. Frames written on one end are read on
// the other.
type Pipe struct {
	origin string
	in     <-chan []byte
	out    chan<- []byte
	done   chan struct{}
	once   *sync.Once
}

// NewPipe returns two connected ends. The wallet end reports origin as its
// transport origin; the page end reports the empty origin.
func NewPipe(origin string) (wallet, page *Pipe) {
	a := make(chan []byte, 16)
	b := make(chan []byte, 16)
	done := make(chan struct{})
	once := new(sync.Once)
	wallet = &Pipe{origin: origin, in: a, out: b, done: done, once: once}
	page = &Pipe{in: b, out: a, done: done, once: once}
	return wallet, page
}

func (p *Pipe) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipe) Write(ctx context.Context, frame []byte) error {
	cp := append([]byte(nil), frame...)
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- cp:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipe) Origin() string { return p.origin }

// Close closes both ends.
func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

var (
	_ Transport = (*WebSocketTransport)(nil)
	_ Transport = (*Pipe)(nil)
)
