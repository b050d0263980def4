package protocol

import (
	"encoding/json"
	"fmt"
)

// ErrorKind classifies a structured error carried on the wire in the "kind" field.
type ErrorKind string

const (
	KindTargetNotFound        ErrorKind = "target_not_found"
	KindCapabilityUnsupported ErrorKind = "capability_unsupported"
	KindCommandTimeout        ErrorKind = "command_timeout"
	KindActionError           ErrorKind = "action_error"
	KindUnknownAction         ErrorKind = "unknown_action"
	KindSignatureInvalid      ErrorKind = "signature_invalid"
	KindProtocolDecode        ErrorKind = "protocol_decode_error"
	KindConnectionLost        ErrorKind = "connection_lost"
)

// Sentinels for errors.Is. Matching compares kinds only.
var (
	ErrTargetNotFound        = &Error{Kind: KindTargetNotFound}
	ErrCapabilityUnsupported = &Error{Kind: KindCapabilityUnsupported}
	ErrCommandTimeout        = &Error{Kind: KindCommandTimeout}
	ErrActionFailed          = &Error{Kind: KindActionError}
	ErrUnknownAction         = &Error{Kind: KindUnknownAction}
	ErrSignatureInvalid      = &Error{Kind: KindSignatureInvalid}
	ErrProtocolDecode        = &Error{Kind: KindProtocolDecode}
	ErrConnectionLost        = &Error{Kind: KindConnectionLost}
)

// Error is the failure half of a Result: {"error": msg, "kind": kind, ...context}.
type Error struct {
	Kind           ErrorKind
	Message        string
	Target         string
	Action         string
	AvailableNodes []string // target_not_found
	Capabilities   []string // capability_unsupported
	TimeoutSeconds float64  // command_timeout
	RequestID      string
}

func (e *Error) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches another *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

type wireError struct {
	Message        string    `json:"error"`
	Kind           ErrorKind `json:"kind,omitempty"`
	Target         string    `json:"target,omitempty"`
	Action         string    `json:"action,omitempty"`
	AvailableNodes []string  `json:"available_nodes,omitempty"`
	Capabilities   []string  `json:"capabilities,omitempty"`
	TimeoutSeconds float64   `json:"timeout,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
}

// MarshalJSON always emits the context list that belongs to the kind, even
// when it is empty, so callers see "available_nodes": [] rather than nothing.
func (e *Error) MarshalJSON() ([]byte, error) {
	m := map[string]any{"error": e.Message}
	if e.Kind != "" {
		m["kind"] = e.Kind
	}
	if e.Target != "" {
		m["target"] = e.Target
	}
	if e.Action != "" {
		m["action"] = e.Action
	}
	if e.RequestID != "" {
		m[FieldRequestID] = e.RequestID
	}
	switch e.Kind {
	case KindTargetNotFound:
		m["available_nodes"] = nonNil(e.AvailableNodes)
	case KindCapabilityUnsupported:
		m["capabilities"] = nonNil(e.Capabilities)
	case KindCommandTimeout:
		m["timeout"] = e.TimeoutSeconds
	}
	return json.Marshal(m)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var w wireError
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Error{
		Kind:           w.Kind,
		Message:        w.Message,
		Target:         w.Target,
		Action:         w.Action,
		AvailableNodes: w.AvailableNodes,
		Capabilities:   w.Capabilities,
		TimeoutSeconds: w.TimeoutSeconds,
		RequestID:      w.RequestID,
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Result is a decoded response: either a success payload or a structured error.
type Result struct {
	Payload json.RawMessage
	Err     *Error
}

// OK reports whether the result carries no error.
func (r Result) OK() bool { return r.Err == nil }

// DecodeResult classifies a raw response object. A non-empty "error" string
// marks a failure; everything else is a success payload.
func DecodeResult(raw []byte) (Result, error) {
	var peek struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	msg, isString := peek.Error.(string)
	if peek.Error == nil || (isString && msg == "") {
		return Result{Payload: json.RawMessage(raw)}, nil
	}
	var e Error
	if err := json.Unmarshal(raw, &e); err != nil {
		// "error" present but not a string: keep its JSON text as the message.
		text, _ := json.Marshal(peek.Error)
		e = Error{Message: string(text)}
	}
	return Result{Payload: json.RawMessage(raw), Err: &e}, nil
}
