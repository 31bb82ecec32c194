// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package transcript accumulates the raw message bytes that authentication
// signatures are computed over. A log is append-only: the challenge engine
// adds each request and response to it but never clears it, because the
// transcript may span multiple exchanges and its lifecycle belongs to
// whichever layer owns the session.
package transcript

import (
	"errors"
	"fmt"
)

// ErrOverflow is returned by Append when a bounded log cannot hold the
// message.
var ErrOverflow = errors.New("transcript capacity exceeded")

// Log is an append-only record of message bytes. The zero value is an
// unbounded empty log ready for use.
type Log struct {
	buf []byte
	max int
}

// New returns an empty unbounded log.
func New() *Log { return &Log{} }

// NewBounded returns an empty log that holds at most max bytes.
func NewBounded(max int) *Log { return &Log{max: max} }

// Append adds msg to the log. If the log is bounded and msg does not fit,
// the log is left unchanged and an error wrapping ErrOverflow is returned.
func (l *Log) Append(msg []byte) error {
	if l.max > 0 && len(l.buf)+len(msg) > l.max {
		return fmt.Errorf("appending %d bytes to %d byte transcript with %d byte capacity: %w",
			len(msg), len(l.buf), l.max, ErrOverflow)
	}
	l.buf = append(l.buf, msg...)
	return nil
}

// Bytes returns the accumulated message bytes. The slice is owned by the log
// and must not be modified; it is valid until the next Append or Reset.
func (l *Log) Bytes() []byte { return l.buf }

// Len returns the number of accumulated bytes.
func (l *Log) Len() int { return len(l.buf) }

// Reset discards all accumulated bytes, keeping any capacity bound.
func (l *Log) Reset() { l.buf = l.buf[:0] }
