// Package hooks provides the before/after observer pipeline that the protocol
// engine wraps around every unit of protocol work.
//
// A Registry holds, per hook Point, an ordered chain of BeforeFuncs and an
// ordered chain of AfterFuncs. Execute runs the before chain, then the task,
// then the after chain, strictly one observer at a time and in registration
// order. The first observer that fails stops its chain and the failure is
// returned to the caller of Execute; a failing before chain also skips the
// task and the after chain.
//
// Observers of one Execute call share a single *Info. They may annotate it
// (Info.Set) for observers further down the chain, but must not retain it
// after they return.
package hooks
