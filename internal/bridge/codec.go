package bridge

import (
	"encoding/json"
	"fmt"

	"satwallet/internal/domain"
)

// FrameKind classifies a decoded frame.
type FrameKind int

const (
	FrameRequest FrameKind = iota + 1
	FrameResponse
	FrameLegacy
)

func (k FrameKind) String() string {
	switch k {
	case FrameRequest:
		return "request"
	case FrameResponse:
		return "response"
	case FrameLegacy:
		return "legacy"
	}
	return "unknown"
}

// Frame is one decoded inbound message. Exactly one of the pointers is set,
// matching Kind.
type Frame struct {
	Kind     FrameKind
	Request  *domain.Request
	Response *domain.Response
	Legacy   *domain.LegacyMessage
}

// DecodeError reports a frame that matches no known envelope. ID is the
// request id when it could be recovered.
type DecodeError struct {
	ID     string
	Reason string
}

func (e *DecodeError) Error() string { return "invalid envelope: " + e.Reason }

// BridgeError maps the decode failure to its wire form.
func (e *DecodeError) BridgeError() *domain.BridgeError {
	return domain.NewBridgeError(domain.CodeInvalidRequest, "%s", e.Reason)
}

// Decode parses and classifies data.
func Decode(data []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Frame{}, &DecodeError{Reason: "not a JSON object"}
	}
	id := recoverID(fields)

	_, hasMethod := fields["method"]
	_, hasOK := fields["ok"]
	_, hasType := fields["type"]

	switch {
	case hasMethod:
		return decodeRequest(data, id)
	case hasOK:
		return decodeResponse(data, id)
	case hasType:
		return decodeLegacy(data)
	}
	return Frame{}, &DecodeError{ID: id, Reason: "unrecognised envelope"}
}

func recoverID(fields map[string]json.RawMessage) string {
	raw, ok := fields["id"]
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}

func decodeRequest(data []byte, id string) (Frame, error) {
	var req domain.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Frame{}, &DecodeError{ID: id, Reason: fmt.Sprintf("malformed request: %v", err)}
	}
	switch {
	case req.ID == "":
		return Frame{}, &DecodeError{Reason: "request id is required"}
	case req.Version != domain.ProtocolVersion:
		return Frame{}, &DecodeError{ID: req.ID, Reason: fmt.Sprintf("unsupported version %q", req.Version)}
	case req.Method == "":
		return Frame{}, &DecodeError{ID: req.ID, Reason: "method is required"}
	}
	if len(req.Params) > 0 && req.Params[0] != '{' && string(req.Params) != "null" {
		return Frame{}, &DecodeError{ID: req.ID, Reason: "params must be an object"}
	}
	return Frame{Kind: FrameRequest, Request: &req}, nil
}

func decodeResponse(data []byte, id string) (Frame, error) {
	var resp domain.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Frame{}, &DecodeError{ID: id, Reason: fmt.Sprintf("malformed response: %v", err)}
	}
	if resp.ID == "" || resp.Version != domain.ProtocolVersion {
		return Frame{}, &DecodeError{ID: id, Reason: "malformed response"}
	}
	if resp.OK == (resp.Error != nil) {
		return Frame{}, &DecodeError{ID: id, Reason: "response must carry either a result or an error"}
	}
	return Frame{Kind: FrameResponse, Response: &resp}, nil
}

func decodeLegacy(data []byte) (Frame, error) {
	var msg domain.LegacyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("malformed legacy message: %v", err)}
	}
	switch msg.Type {
	case domain.LegacyCheckReady, domain.LegacyReady, domain.LegacyMigrateKeys, domain.LegacyAlreadyLoggedIn:
		return Frame{Kind: FrameLegacy, Legacy: &msg}, nil
	}
	return Frame{}, &DecodeError{Reason: fmt.Sprintf("unknown legacy type %q", msg.Type)}
}

// Encode serialises an outbound envelope.
func Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case domain.Response:
		if m.Version == "" {
			m.Version = domain.ProtocolVersion
		}
		return json.Marshal(m)
	case *domain.Response:
		return Encode(*m)
	}
	return json.Marshal(v)
}
