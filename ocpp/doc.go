// Package ocpp defines the OCPP-J wire model shared by the engine and its
// collaborators: message type ids, RPC framework error codes and the
// positional JSON array frames that carry CALL, CALLRESULT and CALLERROR
// messages.
//
// Frames are always encoded as JSON arrays:
//
//	[2, "<id>", "<action>", {payload}]                          CALL
//	[3, "<id>", {payload}]                                      CALLRESULT
//	[4, "<id>", "<errorCode>", "<errorDescription>", {details}] CALLERROR
//
// ParseFrame is strict about shape and arity. It performs no payload
// validation; that is the job of the schema package.
package ocpp
