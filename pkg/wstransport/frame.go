package wstransport

import (
	"encoding/json"
	"fmt"
)

// Handshake and control events. Chat payloads travel on chat.EventMessage.
const (
	EventConnect      = "connect"
	EventConnectAck   = "connect_ack"
	EventConnectError = "connect_error"
	EventError        = "error"
)

// Frame is the JSON envelope for every websocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outboundFrame is Frame with an unencoded payload.
type outboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ConnectData is the payload of a connect frame.
type ConnectData struct {
	Token string `json:"token,omitempty"`
}

// ConnectAckData is the payload of a connect_ack frame.
type ConnectAckData struct {
	ClientID string `json:"clientId,omitempty"`
}

// ErrorData is the payload of connect_error and error frames.
type ErrorData struct {
	Message string `json:"message"`
}

// ServerError is an error reported by the remote endpoint.
type ServerError struct {
	Event   string
	Message string
}

// Error implements the error interface
func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s: %s", e.Event, e.Message)
}

// EncodeFrame marshals an event and payload into a wire frame.
func EncodeFrame(event string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", event, err)
	}
	return payload, nil
}

// DecodeFrame parses a wire frame.
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("failed to parse frame: %w", err)
	}
	if frame.Event == "" {
		return Frame{}, fmt.Errorf("frame has no event")
	}
	return frame, nil
}

func decodeServerError(frame Frame) *ServerError {
	var data ErrorData
	if len(frame.Data) > 0 {
		_ = json.Unmarshal(frame.Data, &data)
	}
	if data.Message == "" {
		data.Message = "unspecified error"
	}
	return &ServerError{Event: frame.Event, Message: data.Message}
}
