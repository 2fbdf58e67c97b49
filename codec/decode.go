package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeMode is how a worker's stdout is turned into a single record.
type DecodeMode int

const (
	// Structured takes the first non-empty line as the record.
	Structured DecodeMode = iota
	// LastLineStructured treats everything before the last non-empty line as log noise.
	LastLineStructured
)

func (m DecodeMode) String() string {
	switch m {
	case Structured:
		return "structured"
	case LastLineStructured:
		return "last-line-structured"
	default:
		return fmt.Sprintf("DecodeMode(%d)", int(m))
	}
}

var ErrNoRecord = errors.New("no structured record in output")

// SplitLines splits raw process output into lines, dropping the empty trailer left by a final newline.
func SplitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// DecodeWorkerOutput picks the record out of lines according to mode and unmarshals it into v.
// All failures are returned as *DecodeError.
func DecodeWorkerOutput(mode DecodeMode, lines []string, v any) error {
	var record string
	switch mode {
	case Structured:
		for _, l := range lines {
			if strings.TrimSpace(l) != "" {
				record = l
				break
			}
		}
	case LastLineStructured:
		for i := len(lines) - 1; i >= 0; i-- {
			if strings.TrimSpace(lines[i]) != "" {
				record = lines[i]
				break
			}
		}
	default:
		return &DecodeError{Mode: mode, Err: fmt.Errorf("unknown decode mode")}
	}

	if record == "" {
		return &DecodeError{Mode: mode, RawSample: Sample(strings.Join(lines, "\n")), Err: ErrNoRecord}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(record)))
	if err := dec.Decode(v); err != nil {
		return &DecodeError{Mode: mode, RawSample: Sample(record), Err: err}
	}
	// a record is exactly one JSON value
	if dec.More() {
		return &DecodeError{Mode: mode, RawSample: Sample(record), Err: errors.New("trailing data after record")}
	}
	return nil
}

// ErrMalformedReply is returned for a chat record that carries neither a reply nor an error.
var ErrMalformedReply = errors.New("chat reply must hold a response and a context, or an error")

// UnmarshalChatReply decodes b into r after checking that it has the shape of a chat reply:
// a JSON object with either an error object, or a string response together with a non-null context.
func UnmarshalChatReply(b []byte, r *ChatReply) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if fields == nil {
		return fmt.Errorf("%w: got null", ErrMalformedReply)
	}
	if !isNull(fields["error"]) {
		return json.Unmarshal(b, r)
	}
	if resp := bytes.TrimSpace(fields["response"]); len(resp) == 0 || resp[0] != '"' {
		return fmt.Errorf("%w: response is missing or not a string", ErrMalformedReply)
	}
	if isNull(fields["context"]) {
		return fmt.Errorf("%w: context is missing", ErrMalformedReply)
	}
	return json.Unmarshal(b, r)
}

func isNull(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || string(v) == "null"
}
