// Package wsserver accepts OCPP-J WebSocket connections from charge points.
//
// The charge point id is the last segment of the request path, e.g.
// ws://csms.example.com/ocpp/CP-1. The OCPP version is negotiated through
// Sec-WebSocket-Protocol; a connection that offers no supported version is
// upgraded and immediately closed with status 1002, as charge points expect.
//
// For every accepted connection the server builds an engine.Engine, lets the
// WithAttach callbacks install hook observers, runs the validConnection hook
// point with the HTTP basic-auth credentials (a rejection is answered with
// 401 before upgrading), installs the WithHandlers callbacks, then serves the
// connection and records it in the registry until it closes.
package wsserver
