// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package spdmtest

import (
	"context"
	"testing"

	"github.com/spdm-tools/go-spdm"
	"github.com/spdm-tools/go-spdm/protocol"
)

// Transport for tests, directly calling the responder with its session. No
// framing is used; request and response PDUs pass through unchanged.
type Transport struct {
	T *testing.T

	Responder *spdm.Responder

	// Session is the responder-side session, distinct from the requester's
	// even though both carry the same negotiated configuration.
	Session *spdm.Session
}

var _ spdm.Transport = (*Transport)(nil)

// Send implements spdm.Transport.
func (t *Transport) Send(ctx context.Context, req []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	t.T.Logf("request:  %x", req)
	resp := make([]byte, t.Session.ChallengeAuthLength(protocol.RoleResponder))
	n, err := t.Responder.Respond(ctx, t.Session, req, resp)
	if err != nil {
		return nil, err
	}
	t.T.Logf("response: %x", resp[:n])
	return resp[:n], nil
}
