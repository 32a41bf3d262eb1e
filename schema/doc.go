// Package schema implements the payload validation registry consulted by the
// protocol engine for every inbound and outbound OCPP payload.
//
// A Registry maps a protocol version (the lower-cased WebSocket sub-protocol
// token, e.g. "ocpp1.6") and an action name to a request validator and,
// when the action defines one, a response validator. It is populated once
// through Options passed to New and is read-only afterwards, so a single
// Registry may be shared by every connected charge point.
//
// Lookups that find no schema accept the payload: absence of a schema is
// permissive, a failing schema is not.
//
// Schema sources:
//
//	WithBuiltin()          embedded OCPP 1.6 core profile schemas
//	WithFS(v, fsys, dir)   <Action>.json / <Action>Response.json files
//	WithSchema(...)        a single JSON Schema document
//	WithReflected(...)     a schema reflected from a Go type
package schema
