// Package iox provides cleanup helpers for sessions, pipes and journal
// handles whose close errors have nowhere to go.
package iox

import (
	"errors"
	"io"
)

// DiscardClose closes c and drops the error.
//
//	defer iox.DiscardClose(sess)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a func that closes c, for t.Cleanup registration.
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and drops its error, for Sync and Flush style calls.
func DiscardErr(fn func() error) { _ = fn() }

// CloseAll closes every non-nil closer in order, even after a failure, and
// returns the joined errors.
func CloseAll(closers ...io.Closer) error {
	var errs []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
