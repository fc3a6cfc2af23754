// Package v1 defines the tearoom realtime protocol v1 contract.
//
// This package is dependency-light and shared between the server, the Go
// client and tooling so the wire protocol has one authoritative definition.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "tearoom.realtime.v1"

// Close codes in the application range.
const (
	// CloseTokenExpired tells the client to refresh its access token and reconnect.
	CloseTokenExpired = 4001
	// CloseRevoked tells the client its session ended server-side.
	CloseRevoked = 4003
)

// Type constants (wire-stable).
const (
	// TypeHello greets an admitted connection (server -> client).
	TypeHello = "hello"

	// TypeJoinRoom subscribes the connection to a channel (client -> server).
	TypeJoinRoom = "join-room"
	// TypeLeaveRoom unsubscribes from a channel (client -> server).
	TypeLeaveRoom = "leave-room"

	// TypeJoined confirms a subscription (server -> client).
	TypeJoined = "joined"
	// TypeLeft confirms an unsubscription (server -> client).
	TypeLeft = "left"

	// TypeOrderCreated carries a new order snapshot (server -> subscribers).
	TypeOrderCreated = "order-created"
	// TypeOrderStatusUpdated carries a changed order snapshot (server -> subscribers).
	TypeOrderStatusUpdated = "order-status-updated"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeJoinRoom,
		TypeLeaveRoom,
		TypeJoined,
		TypeLeft,
		TypeOrderCreated,
		TypeOrderStatusUpdated,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ClientSent reports whether clients may send this type.
func ClientSent(typ string) bool {
	return typ == TypeJoinRoom || typ == TypeLeaveRoom
}

// NewEnvelope marshals payload into an Envelope.
func NewEnvelope(typ, id string, ts time.Time, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		raw = b
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts, Payload: raw}, nil
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(e.Payload, dst)
}
