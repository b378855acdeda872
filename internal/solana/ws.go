package solana

import (
	"encoding/json"
	"fmt"
)

// Commitment is a Solana commitment level.
type Commitment string

// Commitment levels accepted by logsSubscribe.
const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Valid reports whether c is a known commitment level.
func (c Commitment) Valid() bool {
	switch c {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
		return true
	}
	return false
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these program IDs.
	Mentions []string
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Subscription int64
	Signature    string
	Slot         int64
	Logs         []string
	Err          interface{}
}

// Failed reports whether the transaction behind the notification failed.
func (n LogNotification) Failed() bool {
	return n.Err != nil
}

// FrameKind tags a decoded inbound websocket frame.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameSubscribeAck
	FrameUnsubscribeAck
	FrameNotification
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameSubscribeAck:
		return "subscribe_ack"
	case FrameUnsubscribeAck:
		return "unsubscribe_ack"
	case FrameNotification:
		return "notification"
	case FrameError:
		return "error"
	}
	return "unknown"
}

// Frame is an inbound websocket message. Exactly one payload field is set,
// selected by Kind.
type Frame struct {
	Kind           FrameKind
	RequestID      uint64
	SubscriptionID int64            // FrameSubscribeAck
	Notification   *LogNotification // FrameNotification
	Err            *WSError         // FrameError
}

// WSError is a JSON-RPC error delivered over the websocket.
type WSError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *WSError) Error() string {
	return fmt.Sprintf("ws error %d: %s", e.Code, e.Message)
}

// wsEnvelope holds every field any inbound frame may carry.
type wsEnvelope struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      *uint64               `json:"id"`
	Method  string                `json:"method"`
	Result  json.RawMessage       `json:"result"`
	Error   *WSError              `json:"error"`
	Params  *wsNotificationParams `json:"params"`
}

// DecodeFrame classifies and decodes one inbound message.
func DecodeFrame(message []byte) (Frame, error) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}

	switch {
	case env.Method == "logsNotification":
		if env.Params == nil {
			return Frame{}, fmt.Errorf("notification without params")
		}
		value := env.Params.Result.Value
		n := &LogNotification{
			Subscription: env.Params.Subscription,
			Signature:    value.Signature,
			Logs:         value.Logs,
			Err:          value.Err,
		}
		if env.Params.Result.Context != nil {
			n.Slot = env.Params.Result.Context.Slot
		}
		return Frame{Kind: FrameNotification, Notification: n}, nil

	case env.Error != nil:
		f := Frame{Kind: FrameError, Err: env.Error}
		if env.ID != nil {
			f.RequestID = *env.ID
		}
		return f, nil

	case env.ID != nil && len(env.Result) > 0:
		f := Frame{RequestID: *env.ID}
		var subID int64
		if err := json.Unmarshal(env.Result, &subID); err == nil {
			f.Kind = FrameSubscribeAck
			f.SubscriptionID = subID
			return f, nil
		}
		var ok bool
		if err := json.Unmarshal(env.Result, &ok); err == nil {
			f.Kind = FrameUnsubscribeAck
			return f, nil
		}
		return Frame{Kind: FrameUnknown, RequestID: *env.ID}, nil
	}

	return Frame{Kind: FrameUnknown}, nil
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
