package domain

import "encoding/json"

// ProtocolVersion tags every request and response envelope.
const ProtocolVersion = "1sat-bridge@1"

// Method names a bridge operation.
type Method string

const (
	MethodStatus      Method = "wallet.status"
	MethodConnect     Method = "wallet.connect"
	MethodSignMessage Method = "wallet.signMessage"
	MethodSignTx      Method = "wallet.signTx"
	MethodFundTx      Method = "wallet.fundTx"
	MethodEncrypt     Method = "wallet.encrypt"
	MethodDecrypt     Method = "wallet.decrypt"
	MethodBapAlias    Method = "wallet.bapAlias"
)

// Methods lists every method the bridge understands, in display order.
var Methods = []Method{
	MethodStatus,
	MethodConnect,
	MethodSignMessage,
	MethodSignTx,
	MethodFundTx,
	MethodEncrypt,
	MethodDecrypt,
	MethodBapAlias,
}

// String returns the string form of the method.
func (m Method) String() string { return string(m) }

// ErrorCode is the machine readable error in a response envelope.
type ErrorCode string

const (
	CodeBridgeError       ErrorCode = "bridge_error"
	CodeUnsupportedMethod ErrorCode = "unsupported_method"
	CodeWalletLocked      ErrorCode = "wallet_locked"
	CodeInsufficientFunds ErrorCode = "insufficient_funds"
	CodeUserRejected      ErrorCode = "user_rejected"
	CodeInvalidRequest    ErrorCode = "invalid_request"
	CodeBroadcastFailed   ErrorCode = "broadcast_failed"
)

// Request is an inbound envelope from an embedding page.
type Request struct {
	ID      string          `json:"id"`
	Version string          `json:"version"`
	Method  Method          `json:"method"`
	Origin  string          `json:"origin,omitempty"`
	Intent  string          `json:"intent,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Meta    map[string]any  `json:"meta,omitempty"`
}

// Response answers exactly one Request, correlated by ID.
type Response struct {
	ID      string         `json:"id"`
	Version string         `json:"version"`
	OK      bool           `json:"ok"`
	Result  any            `json:"result,omitempty"`
	Error   *BridgeError   `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Success builds an ok response for id.
func Success(id string, result any) Response {
	return Response{ID: id, Version: ProtocolVersion, OK: true, Result: result}
}

// Failure builds an error response for id.
func Failure(id string, err *BridgeError) Response {
	return Response{ID: id, Version: ProtocolVersion, OK: false, Error: err}
}

// LegacyType names a pre-envelope message.
type LegacyType string

const (
	LegacyCheckReady      LegacyType = "CHECK_READY"
	LegacyReady           LegacyType = "READY"
	LegacyMigrateKeys     LegacyType = "MIGRATE_KEYS"
	LegacyAlreadyLoggedIn LegacyType = "ALREADY_LOGGED_IN"
)

// LegacyMessage is the older {type, payload} framing still spoken by some pages.
type LegacyMessage struct {
	Type    LegacyType      `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MigrateKeysPayload carries WIF keys handed over by a previous wallet page.
type MigrateKeysPayload struct {
	PayPk string `json:"payPk"`
	OrdPk string `json:"ordPk"`
}

// Call is a request accepted by a channel, tagged with the origin the
// transport observed. Origin in Request is advisory only.
type Call struct {
	Request
	TransportOrigin string
}
