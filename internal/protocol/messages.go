// Package protocol defines the websocket message protocol between clients and the engine.
package protocol

import "encoding/json"

// Message types from client to engine
const (
	TypeMessage = "message"
	TypePing    = "ping"
)

// Message types from engine to client
const (
	TypeToken      = "token"
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
	TypeDone       = "done"
	TypeError      = "error"
	TypePong       = "pong"
)

// ClientMessage is an inbound frame from the client.
type ClientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// ServerEvent is an outbound frame to the client.
type ServerEvent struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	ToolID   string `json:"tool_id,omitempty"`
}

// Decode parses an inbound frame. A frame that is not valid JSON of a known
// shape is treated as a plain-text message whose content is the raw frame,
// never rejected.
func Decode(frame []byte) ClientMessage {
	var msg ClientMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return ClientMessage{Type: TypeMessage, Content: string(frame)}
	}
	if msg.Type != TypeMessage && msg.Type != TypePing {
		return ClientMessage{Type: TypeMessage, Content: string(frame)}
	}
	return msg
}

// Token builds a token event carrying one streamed text increment.
func Token(content string) ServerEvent {
	return ServerEvent{Type: TypeToken, Content: content}
}

// ToolCall builds a tool_call event announcing an imminent tool execution.
func ToolCall(toolName, toolID string) ServerEvent {
	return ServerEvent{Type: TypeToolCall, ToolName: toolName, ToolID: toolID}
}

// ToolResult builds a tool_result event carrying a tool's output.
func ToolResult(toolName, content string) ServerEvent {
	return ServerEvent{Type: TypeToolResult, ToolName: toolName, Content: content}
}

// Done builds the terminal event of a successful turn.
func Done() ServerEvent {
	return ServerEvent{Type: TypeDone}
}

// Error builds the terminal event of a failed turn.
func Error(content string) ServerEvent {
	return ServerEvent{Type: TypeError, Content: content}
}

// Pong builds the reply to a ping frame.
func Pong() ServerEvent {
	return ServerEvent{Type: TypePong}
}
