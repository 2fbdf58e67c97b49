package codec

import (
	"encoding/json"
	"fmt"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type Kind int

const (
	KindInit Kind = iota
	KindChat
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindChat:
		return "chat"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Message is a single role-tagged entry of a conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationContext is the server-side view of the context blob.
// Clients never look inside it.
type ConversationContext struct {
	Messages []Message `json:"messages"`
	ChatFile string    `json:"chat_file"`
}

// ChatRequest is both the POST /chat body and the argument handed to the worker for a chat turn.
type ChatRequest struct {
	Message string          `json:"message"`
	Context json.RawMessage `json:"context"`
}

// ChatReply is the record a worker emits for a chat turn, and the POST /chat success body.
type ChatReply struct {
	Response string          `json:"response"`
	Context  json.RawMessage `json:"context,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
}

// AppError returns the worker's error payload as an *ApplicationError, or nil if the reply is not an error.
func (r *ChatReply) AppError() error {
	if r.Error == nil {
		return nil
	}
	return &ApplicationError{Body: *r.Error}
}

// InitResult is the last line a worker prints when run with --init.
type InitResult struct {
	Status   Status          `json:"status"`
	Profile  json.RawMessage `json:"profile,omitempty"`
	ChatFile string          `json:"chat_file,omitempty"`
	Message  string          `json:"message,omitempty"`
}

func (r *InitResult) AppError() error {
	if r.Status == StatusSuccess {
		return nil
	}
	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("worker reported init status %q", r.Status)
	}
	return &ApplicationError{Body: ErrorBody{Message: msg}}
}

// InitResponse is the GET /init body.
type InitResponse struct {
	Status   Status          `json:"status"`
	Profile  json.RawMessage `json:"profile,omitempty"`
	ChatFile string          `json:"chat_file,omitempty"`
	Context  json.RawMessage `json:"context,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// NewInitResponse builds the first conversation context for a freshly initialized session.
func NewInitResponse(res *InitResult) (*InitResponse, error) {
	profile := "null"
	if len(res.Profile) > 0 {
		var v any
		if err := json.Unmarshal(res.Profile, &v); err != nil {
			return nil, fmt.Errorf("parsing profile: %w", err)
		}
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("formatting profile: %w", err)
		}
		profile = string(b)
	}
	convCtx, err := json.Marshal(ConversationContext{
		Messages: []Message{{Role: "system", Content: "Using profile: " + profile}},
		ChatFile: res.ChatFile,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding context: %w", err)
	}
	return &InitResponse{
		Status:   StatusSuccess,
		Profile:  res.Profile,
		ChatFile: res.ChatFile,
		Context:  convCtx,
	}, nil
}

// ErrorBody is the error object used by both the worker and the HTTP API.
type ErrorBody struct {
	Message   string `json:"message"`
	Type      string `json:"type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Details   string `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}
