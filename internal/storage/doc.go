// Package storage persists the small amount of state that must survive
// restarts:
//   - Per-schedule state (enabled flag, time of day, next fire time)
//   - The bounded outcome history
//   - Misc settings (single-key get/set)
//
// Access is single-key atomic: there is no cross-key transaction, and
// callers must tolerate observing partially-updated state after a crash
// between two writes.
package storage
