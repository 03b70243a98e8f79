package spanheap

import (
	"github.com/pkg/errors"
)

// corruptf builds a wrapped, stack-bearing error describing a violated heap
// invariant. Callers of this helper panic with its result: per SPEC_FULL.md
// §7, structural corruption is a programmer error and is fatal, never a
// recoverable condition.
func corruptf(format string, args ...any) error {
	return errors.Errorf("spanheap: corruption detected: "+format, args...)
}

// wrapMapErr annotates a page-provider failure with enough context to debug
// it, matching the pattern other_examples/rclone-rclone__mmap_unix.go uses
// for the same class of failure (a failed unix.Mmap/Munmap call).
func wrapMapErr(err error, op string, n int) error {
	return errors.Wrapf(err, "spanheap: %s(%d) failed", op, n)
}
