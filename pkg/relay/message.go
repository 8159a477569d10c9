package relay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/agentivo/overlap/pkg/graph"
)

// Message is a single relay wire message
type Message struct {
	ID   string                 `json:"#,omitempty"`
	Ack  string                 `json:"@,omitempty"`
	Put  map[string]*graph.Node `json:"put,omitempty"`
	Get  *GetRequest            `json:"get,omitempty"`
	Err  string                 `json:"err,omitempty"`
	OK   any                    `json:"ok,omitempty"`
	DAM  string                 `json:"dam,omitempty"`
	PID  string                 `json:"pid,omitempty"`
}

// Kind names the message for logging and metrics
func (m *Message) Kind() string {
	switch {
	case m.Put != nil:
		return "put"
	case m.Get != nil:
		return "get"
	case m.DAM != "":
		return "dam"
	case m.Ack != "":
		return "ack"
	default:
		return "other"
	}
}

// GetRequest asks for a node, or a single field of it
type GetRequest struct {
	Soul  string
	Field string
}

// MarshalJSON encodes the request as {"#": soul, ".": field}
func (g GetRequest) MarshalJSON() ([]byte, error) {
	out := map[string]string{"#": g.Soul}
	if g.Field != "" {
		out["."] = g.Field
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts a field given either as a string or as {"=": field}.
// Any other field selector asks for the whole node.
func (g *GetRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Soul  string          `json:"#"`
		Field json.RawMessage `json:"."`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	g.Soul = raw.Soul
	g.Field = ""
	if len(raw.Field) == 0 {
		return nil
	}

	var field string
	if err := json.Unmarshal(raw.Field, &field); err == nil {
		g.Field = field
		return nil
	}
	var exact struct {
		Equal string `json:"="`
	}
	if err := json.Unmarshal(raw.Field, &exact); err == nil {
		g.Field = exact.Equal
	}
	return nil
}

// decodeFrame decodes a frame holding one message or an array of messages
func decodeFrame(frame []byte) ([]*Message, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	if frame[0] == '[' {
		var batch []*Message
		if err := json.Unmarshal(frame, &batch); err != nil {
			return nil, fmt.Errorf("failed to decode message batch: %w", err)
		}
		return batch, nil
	}

	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return []*Message{&msg}, nil
}
