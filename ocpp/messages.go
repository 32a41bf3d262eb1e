package ocpp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the first element of every OCPP-J frame.
type MessageType int

const (
	// Call is a request frame carrying an action and a payload.
	Call MessageType = 2
	// CallResult is a successful response frame carrying a payload.
	CallResult MessageType = 3
	// CallError is a failed response frame carrying an error code, description and details.
	CallError MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case Call:
		return "CALL"
	case CallResult:
		return "CALLRESULT"
	case CallError:
		return "CALLERROR"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// Valid reports whether t is one of the three OCPP-J message types.
func (t MessageType) Valid() bool {
	return t == Call || t == CallResult || t == CallError
}

// ErrMalformedFrame is wrapped by every error returned from ParseFrame.
var ErrMalformedFrame = errors.New("malformed frame")

var emptyObject = json.RawMessage("{}")

// Frame is the decoded form of an OCPP-J message. Which fields are meaningful
// depends on Type.
type Frame struct {
	Type MessageType
	ID   string

	// Action is set for Call frames.
	Action string

	// Payload is set for Call and CallResult frames.
	Payload json.RawMessage

	// ErrorCode, ErrorDescription and ErrorDetails are set for CallError frames.
	ErrorCode        ErrorCode
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// NewCall builds a CALL frame.
func NewCall(id, action string, payload json.RawMessage) *Frame {
	return &Frame{Type: Call, ID: id, Action: action, Payload: payload}
}

// NewCallResult builds a CALLRESULT frame.
func NewCallResult(id string, payload json.RawMessage) *Frame {
	return &Frame{Type: CallResult, ID: id, Payload: payload}
}

// NewCallError builds a CALLERROR frame.
func NewCallError(id string, code ErrorCode, description string, details json.RawMessage) *Frame {
	return &Frame{Type: CallError, ID: id, ErrorCode: code, ErrorDescription: description, ErrorDetails: details}
}

// MarshalJSON encodes the frame in its positional array form.
func (f *Frame) MarshalJSON() ([]byte, error) {
	switch f.Type {
	case Call:
		return json.Marshal([]any{f.Type, f.ID, f.Action, orEmpty(f.Payload)})
	case CallResult:
		return json.Marshal([]any{f.Type, f.ID, orEmpty(f.Payload)})
	case CallError:
		return json.Marshal([]any{f.Type, f.ID, f.ErrorCode, f.ErrorDescription, orEmpty(f.ErrorDetails)})
	default:
		return nil, fmt.Errorf("unknown message type %d", int(f.Type))
	}
}

// ParseFrame decodes raw text into a Frame. It rejects anything that is not a
// JSON array of the arity required by its message type.
func ParseFrame(data []byte) (*Frame, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(elems) < 3 {
		return nil, fmt.Errorf("%w: expected at least 3 elements, got %d", ErrMalformedFrame, len(elems))
	}

	var typ int
	if err := json.Unmarshal(elems[0], &typ); err != nil {
		return nil, fmt.Errorf("%w: message type id: %v", ErrMalformedFrame, err)
	}
	f := &Frame{Type: MessageType(typ)}
	if !f.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown message type id %d", ErrMalformedFrame, typ)
	}
	if err := json.Unmarshal(elems[1], &f.ID); err != nil {
		return nil, fmt.Errorf("%w: unique id must be a string", ErrMalformedFrame)
	}
	if f.ID == "" {
		return nil, fmt.Errorf("%w: empty unique id", ErrMalformedFrame)
	}

	switch f.Type {
	case Call:
		if len(elems) != 4 {
			return nil, fmt.Errorf("%w: CALL expects 4 elements, got %d", ErrMalformedFrame, len(elems))
		}
		if err := json.Unmarshal(elems[2], &f.Action); err != nil || f.Action == "" {
			return nil, fmt.Errorf("%w: action must be a non-empty string", ErrMalformedFrame)
		}
		f.Payload = elems[3]
	case CallResult:
		if len(elems) != 3 {
			return nil, fmt.Errorf("%w: CALLRESULT expects 3 elements, got %d", ErrMalformedFrame, len(elems))
		}
		f.Payload = elems[2]
	case CallError:
		// Some stations omit the details object; accept 4 or 5 elements.
		if len(elems) != 5 && len(elems) != 4 {
			return nil, fmt.Errorf("%w: CALLERROR expects 5 elements, got %d", ErrMalformedFrame, len(elems))
		}
		var code string
		if err := json.Unmarshal(elems[2], &code); err != nil {
			return nil, fmt.Errorf("%w: error code must be a string", ErrMalformedFrame)
		}
		f.ErrorCode = ErrorCode(code)
		if err := json.Unmarshal(elems[3], &f.ErrorDescription); err != nil {
			return nil, fmt.Errorf("%w: error description must be a string", ErrMalformedFrame)
		}
		if len(elems) == 5 {
			f.ErrorDetails = elems[4]
		}
	}

	return f, nil
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return emptyObject
	}
	return raw
}
