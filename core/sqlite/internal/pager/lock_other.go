//go:build !unix

package pager

// flock is a no-op where advisory file locks are unavailable. A single
// process still serializes writers through the pager state machine.
func flock(Backend, int) error {
	return nil
}
