package hooks

// Point names an extension seam around a unit of engine work.
type Point string

// Hook points used by the protocol engine.
const (
	// MessageReceived wraps the processing of every inbound frame.
	MessageReceived Point = "messageReceived"
	// SendMessage wraps every raw write to the transport.
	SendMessage Point = "sendWsMsg"
	// SendCall wraps the emission of an outbound CALL.
	SendCall Point = "sendCall"
	// SendCallResult wraps the emission of a CALLRESULT for an inbound CALL.
	SendCallResult Point = "sendCallRespond"
	// SendCallError wraps the emission of a CALLERROR for an inbound CALL.
	SendCallError Point = "sendCallError"
	// ExecuteCallHandler wraps validation and dispatch of an inbound CALL.
	ExecuteCallHandler Point = "executeCallHandler"
	// ExecuteCallResultHandler wraps delivery of a CALLRESULT to its pending call.
	ExecuteCallResultHandler Point = "executeCallResultHandler"
	// ExecuteCallErrorHandler wraps delivery of a CALLERROR to its pending call.
	ExecuteCallErrorHandler Point = "executeCallErrorHandler"
	// ValidateConnection runs once when a charge point connects. A failing
	// before or after observer rejects the connection.
	ValidateConnection Point = "validConnection"
)

func (p Point) String() string { return string(p) }
