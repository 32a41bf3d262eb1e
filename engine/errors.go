package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/ocpp-server-go/internal/outbound"
	"github.com/ggoodman/ocpp-server-go/ocpp"
)

var (
	// ErrAlreadyBound is returned when attaching a second transport to an engine.
	ErrAlreadyBound = errors.New("engine: transport already bound")
	// ErrInvalidArgument is returned for nil or empty arguments.
	ErrInvalidArgument = errors.New("engine: invalid argument")
	// ErrNotConnected is returned when writing without a live transport.
	ErrNotConnected = errors.New("engine: not connected")
	// ErrInvalidPayload is returned when an outbound payload fails its schema.
	// Nothing is transmitted for an outbound CALL; an invalid CALLRESULT is
	// replaced by an InternalError CALLERROR.
	ErrInvalidPayload = errors.New("engine: invalid payload")
	// ErrMalformedResponse rejects a call whose CALLRESULT failed the response
	// schema of the action that was sent.
	ErrMalformedResponse = errors.New("engine: malformed response")
	// ErrConnectionClosed rejects calls that were pending when the engine closed.
	ErrConnectionClosed = errors.New("engine: connection closed")
	// ErrAlreadyResponded is returned when answering the same CALL twice.
	ErrAlreadyResponded = errors.New("engine: already responded")
	// ErrCallTimeout rejects calls that received no response in time.
	ErrCallTimeout = outbound.ErrTimeout
	// ErrMalformedFrame marks inbound text that is not a valid OCPP-J frame.
	ErrMalformedFrame = ocpp.ErrMalformedFrame
)

// CallError is a CALLERROR, either received from the charge point in answer
// to a Send, or returned by a handler to choose the CALLERROR it answers with.
type CallError struct {
	Code        ocpp.ErrorCode
	Description string
	Details     json.RawMessage
}

// NewCallError builds a CallError without details.
func NewCallError(code ocpp.ErrorCode, description string) *CallError {
	return &CallError{Code: code, Description: description}
}

func (e *CallError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("ocpp call error %s", e.Code)
	}
	return fmt.Sprintf("ocpp call error %s: %s", e.Code, e.Description)
}

// CloseError describes why the transport closed.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("transport closed: %d %s", e.Code, e.Reason)
}
