// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package spdm_test

import (
	"testing"

	"github.com/spdm-tools/go-spdm/protocol"
	"github.com/spdm-tools/go-spdm/spdmtest"
)

func TestExchange(t *testing.T) {
	spdmtest.RunExchangeSuite(t, spdmtest.Config{})
}

func TestExchangeSHA3(t *testing.T) {
	spdmtest.RunExchangeSuite(t, spdmtest.Config{
		Hash: protocol.SHA3384,
		Asym: protocol.ECDSAP521,
	})
}

func TestExchangeRSA(t *testing.T) {
	spdmtest.RunExchangeSuite(t, spdmtest.Config{
		Hash:    protocol.SHA256,
		Asym:    protocol.RSAPSS2048,
		ReqAsym: protocol.RSASSA2048,
	})
}

func TestExchangeWithMeasurementsAndOpaque(t *testing.T) {
	spdmtest.RunExchangeSuite(t, spdmtest.Config{
		Opaque:             []byte("vendor opaque data"),
		MeasurementSummary: true,
	})
}
