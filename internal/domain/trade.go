package domain

import "time"

// TradeStatus is the lifecycle position of a trade session.
type TradeStatus string

const (
	TradeNegotiating TradeStatus = "negotiating"
	TradeReady       TradeStatus = "ready"
	TradeCompleted   TradeStatus = "completed"
	TradeCancelled   TradeStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s TradeStatus) Terminal() bool { return s == TradeCompleted || s == TradeCancelled }

// RequestStatus is the lifecycle position of a trade invitation.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

// AssetRef points at an asset offered into a trade.
type AssetRef struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Amount *string `json:"amount,omitempty"`
	Image  string  `json:"image"`
	UTXO   *string `json:"utxo,omitempty"`
}

// TradeSession is a two-party negotiated swap.
//
// Invariant: Status == TradeReady implies both locks are set and
// TransactionHex is non-empty. Completed and cancelled sessions are immutable.
type TradeSession struct {
	SessionID         string      `json:"sessionId"`
	InitiatorID       string      `json:"initiatorId"`
	ParticipantID     string      `json:"participantId"`
	InitiatorItems    []AssetRef  `json:"initiatorItems"`
	ParticipantItems  []AssetRef  `json:"participantItems"`
	InitiatorLocked   bool        `json:"initiatorLocked"`
	ParticipantLocked bool        `json:"participantLocked"`
	TransactionHex    string      `json:"transactionHex,omitempty"`
	TxID              string      `json:"txid,omitempty"`
	Status            TradeStatus `json:"status"`
	Revision          uint64      `json:"revision"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy so transitions never alias stored slices.
func (s TradeSession) Clone() TradeSession {
	out := s
	out.InitiatorItems = append([]AssetRef(nil), s.InitiatorItems...)
	out.ParticipantItems = append([]AssetRef(nil), s.ParticipantItems...)
	return out
}

// TradeRequest is an invitation from one user to another.
type TradeRequest struct {
	ID         string        `json:"id"`
	FromUserID string        `json:"fromUserId"`
	ToUserID   string        `json:"toUserId"`
	Status     RequestStatus `json:"status"`
	SessionID  string        `json:"sessionId,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	UserID string
	Status TradeStatus
}

// RequestFilter narrows ListRequests.
type RequestFilter struct {
	FromUserID string
	ToUserID   string
	Status     RequestStatus
}

// Peer is a presence entry.
type Peer struct {
	UserID   string    `json:"userId"`
	Room     string    `json:"room"`
	CursorX  float64   `json:"x"`
	CursorY  float64   `json:"y"`
	LastSeen time.Time `json:"lastSeen"`
}
