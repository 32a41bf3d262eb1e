package ocpp

// ErrorCode is an OCPP-J RPC framework error code carried by a CALLERROR.
type ErrorCode string

const (
	// ErrorCodeNotImplemented indicates the requested action is not known by the receiver.
	ErrorCodeNotImplemented ErrorCode = "NotImplemented"
	// ErrorCodeNotSupported indicates the action is recognized but not supported.
	ErrorCodeNotSupported ErrorCode = "NotSupported"
	// ErrorCodeInternalError indicates an internal error prevented the receiver from completing the operation.
	ErrorCodeInternalError ErrorCode = "InternalError"
	// ErrorCodeProtocolError indicates the payload for the action is incomplete.
	ErrorCodeProtocolError ErrorCode = "ProtocolError"
	// ErrorCodeSecurityError indicates a security issue prevented the operation.
	ErrorCodeSecurityError ErrorCode = "SecurityError"
	// ErrorCodeFormationViolation indicates a syntactically incorrect payload or one
	// that does not conform to the action's schema.
	ErrorCodeFormationViolation ErrorCode = "FormationViolation"
	// ErrorCodePropertyConstraintViolation indicates a field holds an invalid value.
	ErrorCodePropertyConstraintViolation ErrorCode = "PropertyConstraintViolation"
	// ErrorCodeOccurenceConstraintViolation indicates a field violates occurrence constraints.
	// OCPP 1.6 spells it this way on the wire.
	ErrorCodeOccurenceConstraintViolation ErrorCode = "OccurenceConstraintViolation"
	// ErrorCodeTypeConstraintViolation indicates a field violates data type constraints.
	ErrorCodeTypeConstraintViolation ErrorCode = "TypeConstraintViolation"
	// ErrorCodeGenericError is any other error.
	ErrorCodeGenericError ErrorCode = "GenericError"
)

// String returns the wire representation of the code.
func (c ErrorCode) String() string { return string(c) }
