// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package tpm implements slot identity material resident in a TPM 2.0:
// signing keys that never leave the TPM, usable anywhere a [crypto.Signer]
// is accepted, and certificate chain storage in NV indices guarded by a PCR
// policy.
package tpm

import (
	"fmt"
	"log/slog"

	"github.com/google/go-tpm/tpm2/transport"
)

// TPM is the transport for sending commands to a TPM 2.0.
type TPM = transport.TPM

// Open opens a TPM device at the given path.
//
// Clients should use /dev/tpmrm0 because using /dev/tpm0 requires more
// extensive resource management that the kernel already handles for us
// when using the kernel resource manager.
func Open(path string) (transport.TPMCloser, error) {
	switch path {
	case "/dev/tpmrm0":
		return transport.OpenTPM(path)
	case "/dev/tpm0":
		slog.Warn("direct use of the TPM can lead to resource exhaustion, use a TPM resource manager instead")
		return transport.OpenTPM(path)
	default:
		return nil, fmt.Errorf("unsupported TPM device path: %s", path)
	}
}
