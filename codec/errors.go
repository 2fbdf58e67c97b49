package codec

import (
	"fmt"
	"unicode/utf8"
)

// maxRawSample bounds how much offending output a DecodeError carries.
const maxRawSample = 200

// DecodeError is returned when worker output does not contain a usable structured record.
type DecodeError struct {
	Mode      DecodeMode
	RawSample string
	Err       error
}

func (e *DecodeError) Error() string {
	if e.RawSample == "" {
		return fmt.Sprintf("decoding %s worker output: %s", e.Mode, e.Err)
	}
	return fmt.Sprintf("decoding %s worker output: %s (output: %q)", e.Mode, e.Err, e.RawSample)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ApplicationError is a well-formed error payload produced by the worker itself.
type ApplicationError struct {
	Body ErrorBody
}

func (e *ApplicationError) Error() string {
	if e.Body.Type != "" {
		return fmt.Sprintf("worker error (%s): %s", e.Body.Type, e.Body.Message)
	}
	return "worker error: " + e.Body.Message
}

// Sample truncates s to a size suitable for error messages and logs, never splitting a UTF-8 sequence.
func Sample(s string) string {
	if len(s) <= maxRawSample {
		return s
	}
	cut := maxRawSample
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
