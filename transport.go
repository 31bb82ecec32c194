// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package spdm

import "context"

// Transport abstracts the underlying transport binding (MCTP, PCIe DOE,
// TCP, and others) for delivering one request PDU and receiving the peer's
// response PDU.
type Transport interface {
	// Send transmits a request and blocks until the corresponding response
	// arrives. The returned slice is owned by the caller.
	Send(ctx context.Context, req []byte) ([]byte, error)
}
