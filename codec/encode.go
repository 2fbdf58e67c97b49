package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// InputStyle selects how a chat turn is handed to the worker.
type InputStyle int

const (
	// InputArg passes the JSON request as the argument after --chat.
	InputArg InputStyle = iota
	// InputStdin writes the JSON request, newline-terminated, to the worker's stdin.
	InputStdin
)

func (s InputStyle) String() string {
	switch s {
	case InputArg:
		return "arg"
	case InputStdin:
		return "stdin"
	default:
		return fmt.Sprintf("InputStyle(%d)", int(s))
	}
}

func ParseInputStyle(s string) (InputStyle, error) {
	switch strings.ToLower(s) {
	case "", "arg":
		return InputArg, nil
	case "stdin":
		return InputStdin, nil
	default:
		return 0, fmt.Errorf("unsupported input style %q", s)
	}
}

const (
	InitFlag = "--init"
	ChatFlag = "--chat"
)

var ErrEmptyMessage = errors.New("message is required")

// Request is a single logical operation to run on a worker.
type Request struct {
	Kind    Kind
	Message string
	Context json.RawMessage
}

func (r Request) Validate() error {
	switch r.Kind {
	case KindInit:
		if r.Message != "" || len(r.Context) > 0 {
			return errors.New("init request must not carry a message or context")
		}
	case KindChat:
		if strings.TrimSpace(r.Message) == "" {
			return ErrEmptyMessage
		}
	default:
		return fmt.Errorf("unknown request kind %s", r.Kind)
	}
	return nil
}

// Encoded is a request in the form the worker process consumes.
type Encoded struct {
	Args  []string
	Stdin []byte
}

func EncodeRequest(req Request, style InputStyle) (Encoded, error) {
	if err := req.Validate(); err != nil {
		return Encoded{}, err
	}
	if req.Kind == KindInit {
		return Encoded{Args: []string{InitFlag}}, nil
	}

	convCtx := req.Context
	if len(convCtx) == 0 {
		convCtx = json.RawMessage("null")
	}
	b, err := json.Marshal(ChatRequest{Message: req.Message, Context: convCtx})
	if err != nil {
		return Encoded{}, fmt.Errorf("marshaling chat request: %w", err)
	}

	switch style {
	case InputArg:
		return Encoded{Args: []string{ChatFlag, string(b)}}, nil
	case InputStdin:
		return Encoded{Args: []string{ChatFlag}, Stdin: append(b, '\n')}, nil
	default:
		return Encoded{}, fmt.Errorf("unsupported input style %s", style)
	}
}
