// Package enginetest provides a conformance suite that every circulation
// engine implementation must pass. The in-memory engine and the SQL engine
// run the same suite from their own test packages, which keeps their
// observable behavior aligned.
//
// The suite drives time through a controllable Clock so that due dates,
// fines and overdue sweeps can be tested deterministically.
package enginetest
