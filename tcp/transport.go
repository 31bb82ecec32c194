// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spdm-tools/go-spdm"
)

// Transport implements message sending over one TCP connection. Send may be
// used for sending one request and receiving one response; requests on the
// same connection reach the same responder session.
type Transport struct {
	// Conn is the established stream to the responder.
	Conn net.Conn

	// MaxFrameSize bounds response frames. Defaults to
	// [DefaultMaxFrameSize].
	MaxFrameSize uint32
}

var _ spdm.Transport = (*Transport)(nil)

// Dial connects to a responder listening at addr.
func Dial(ctx context.Context, addr string) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("error dialing responder: %w", err)
	}
	return &Transport{Conn: conn}, nil
}

// Send writes one request frame and reads one response frame. A context
// deadline applies to the whole round trip.
func (t *Transport) Send(ctx context.Context, req []byte) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.Conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("error setting connection deadline: %w", err)
		}
		defer func() { _ = t.Conn.SetDeadline(time.Time{}) }()
	}

	if err := writeFrame(t.Conn, req); err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	max := t.MaxFrameSize
	if max == 0 {
		max = DefaultMaxFrameSize
	}
	resp, err := readFrame(t.Conn, max)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	return resp, nil
}

// Close closes the underlying connection.
func (t *Transport) Close() error { return t.Conn.Close() }
