// Package engine implements the per-connection OCPP protocol engine.
//
// An Engine is created for every connected charge point. It owns the
// transport, the handlers for inbound CALLs, the table of outbound CALLs that
// are waiting for a response, and a hooks.Registry. Every payload that
// crosses the engine, in either direction, is checked by a Validator
// (normally a *schema.Registry) against the negotiated protocol version.
//
// Inbound frames are processed one at a time. For each frame the engine runs
// the messageReceived hook point and, inside it, one of:
//
//	CALL        executeCallHandler: validate, then dispatch to the handler
//	            (FormationViolation / NotImplemented CALLERRORs otherwise)
//	CALLRESULT  executeCallResultHandler: validate against the response
//	            schema of the original action, then resolve the pending call
//	CALLERROR   executeCallErrorHandler: reject the pending call
//
// Responses that match no pending call are dropped silently. A malformed
// frame is logged and dropped; it never closes the connection.
//
// Outbound CALLs are made with Send (returns a *Call future) or Call (blocks).
// Inbound CALLs are answered through the *Response passed to the handler.
//
// Handlers run on the connection's read path. A handler must not block
// waiting for the response to a CALL it sends to the same charge point; use
// Send and wait in another goroutine instead.
package engine
