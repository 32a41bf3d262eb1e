// Package handlers provides the default answers a central system gives to
// the CALLs a charge point initiates, and the payload types of the commands
// an operator sends to charge points.
//
// Handlers persist what they learn (boot information, connector status,
// transactions) in a storage.Storage scoped per charge point, so the
// operator API can report it.
package handlers
