// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package spdm

import (
	"context"
	"crypto"
	"fmt"

	"github.com/spdm-tools/go-spdm/protocol"
)

// ErrNotFound is used when a credential slot does not exist in a store.
var ErrNotFound = fmt.Errorf("not found")

// CredentialStore holds an endpoint's own identity material: one certificate
// chain and signing key per slot. How chains are encoded and where keys live
// is the store's business; the engine only ever needs a chain digest and a
// [crypto.Signer].
type CredentialStore interface {
	// CertChainHash returns the digest of the certificate chain in the given
	// slot, computed with the given algorithm. Implementations return
	// [ErrNotFound] for an empty slot.
	CertChainHash(ctx context.Context, slot uint8, alg protocol.HashAlg) ([]byte, error)

	// SlotKey returns the private signing key paired with the certificate
	// chain in the given slot. Implementations return [ErrNotFound] when no
	// key is configured for the slot.
	SlotKey(ctx context.Context, slot uint8) (crypto.Signer, error)
}

// PeerCredentials holds the material needed to verify a peer's
// CHALLENGE_AUTH: the expected digest of each peer chain and the public key
// that signs for it. The provisioned selector is resolved by the store, since
// which chain a peer treats as its default identity is knowledge about the
// peer, not about the local session.
type PeerCredentials interface {
	// PeerCertChainHash returns the expected digest of the peer certificate
	// chain selected by id, computed with the given algorithm.
	PeerCertChainHash(ctx context.Context, id protocol.SlotID, alg protocol.HashAlg) ([]byte, error)

	// PeerKey returns the public key that produces signatures for the peer
	// chain selected by id.
	PeerKey(ctx context.Context, id protocol.SlotID) (crypto.PublicKey, error)
}

// MeasurementSource supplies the summary digest of an endpoint's measurement
// state. Measurement collection is outside this library; a source reports
// only the already-computed summary, sized to the negotiated hash.
type MeasurementSource interface {
	MeasurementSummary(ctx context.Context, alg protocol.HashAlg) ([]byte, error)
}

// ErrorWriter formats protocol-level ERROR responses. The challenge engine
// never fabricates error bytes itself: every classified rejection is
// delegated to an ErrorWriter, which writes a complete PDU into buf and
// reports its length. The aux value carries the message code the error
// refers to, when there is one.
type ErrorWriter interface {
	WriteError(ctx context.Context, sess *Session, code protocol.ErrCode, aux uint8, buf []byte) (int, error)
}

// pduErrorWriter is the default ErrorWriter: a standard 4-byte SPDM ERROR
// PDU at the session's response version.
type pduErrorWriter struct{}

var _ ErrorWriter = pduErrorWriter{}

func (pduErrorWriter) WriteError(_ context.Context, sess *Session, code protocol.ErrCode, aux uint8, buf []byte) (int, error) {
	msg := protocol.ErrorMessage{
		Version: sess.Version.ResponseVersion(),
		Code:    code,
		Param:   aux,
	}
	return msg.Encode(buf)
}
