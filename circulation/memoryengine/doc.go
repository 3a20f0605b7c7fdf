// Package memoryengine provides an in-process implementation of the
// circulation engine backed by plain maps.
//
// All mutating operations (borrow, return, sweep, catalogue and member
// management) run under a single writer lock, so every command appears
// atomic to concurrent readers: a reader can never observe a loan without
// the corresponding inventory decrement, or vice versa. Reads share the
// lock and always observe a consistent snapshot.
//
// Lock acquisition is bounded: when configured with WithLockTimeout, a
// caller that cannot acquire the lock in time receives
// circulation.ErrLockTimeout instead of hanging. The engine performs no
// implicit retry.
//
// The engine is the reference implementation used by the conformance
// suite in testutil/enginetest; circulation/sqlengine provides the
// database-backed equivalent.
package memoryengine
