// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package memory implements credential storage in non-persistent process
// memory, for tests and for endpoints whose identity is provisioned at
// startup.
package memory

import (
	"context"
	"crypto"
	"fmt"

	"github.com/spdm-tools/go-spdm"
	"github.com/spdm-tools/go-spdm/protocol"
)

// Slot is one certificate chain with its signing key.
type Slot struct {
	// Chain is the wire-format certificate chain the digest is computed
	// over.
	Chain []byte

	Key crypto.Signer
}

// Store holds identity material by slot index. It serves both store roles:
// as a [spdm.CredentialStore] for the endpoint that owns the keys and, on
// the other side of an exchange, as the [spdm.PeerCredentials] describing
// that same endpoint.
type Store struct {
	Slots map[uint8]Slot

	// ProvisionedSlot resolves the provisioned-identity selector when this
	// store describes a peer.
	ProvisionedSlot uint8
}

var (
	_ spdm.CredentialStore   = (*Store)(nil)
	_ spdm.PeerCredentials   = (*Store)(nil)
	_ spdm.MeasurementSource = Measurements{}
)

// NewStore initializes an empty in-memory store.
func NewStore() *Store {
	return &Store{Slots: make(map[uint8]Slot)}
}

// AddSlot sets the chain and key for a slot index.
func (s *Store) AddSlot(index uint8, chain []byte, key crypto.Signer) {
	s.Slots[index] = Slot{Chain: chain, Key: key}
}

// CertChainHash digests the chain stored in the given slot.
func (s *Store) CertChainHash(_ context.Context, slot uint8, alg protocol.HashAlg) ([]byte, error) {
	entry, ok := s.Slots[slot]
	if !ok {
		return nil, fmt.Errorf("certificate chain for slot %d: %w", slot, spdm.ErrNotFound)
	}
	h := alg.New()
	_, _ = h.Write(entry.Chain)
	return h.Sum(nil), nil
}

// SlotKey returns the signing key stored in the given slot.
func (s *Store) SlotKey(_ context.Context, slot uint8) (crypto.Signer, error) {
	entry, ok := s.Slots[slot]
	if !ok || entry.Key == nil {
		return nil, fmt.Errorf("signing key for slot %d: %w", slot, spdm.ErrNotFound)
	}
	return entry.Key, nil
}

// PeerCertChainHash digests the chain the selector resolves to.
func (s *Store) PeerCertChainHash(ctx context.Context, id protocol.SlotID, alg protocol.HashAlg) ([]byte, error) {
	return s.CertChainHash(ctx, id.Resolve(s.ProvisionedSlot), alg)
}

// PeerKey returns the public half of the key the selector resolves to.
func (s *Store) PeerKey(_ context.Context, id protocol.SlotID) (crypto.PublicKey, error) {
	entry, ok := s.Slots[id.Resolve(s.ProvisionedSlot)]
	if !ok || entry.Key == nil {
		return nil, fmt.Errorf("public key for %s: %w", id, spdm.ErrNotFound)
	}
	return entry.Key.Public(), nil
}

// Measurements derives the summary digest by hashing a fixed measurement
// state blob, so it fits whichever hash a session negotiated.
type Measurements struct {
	State []byte
}

// MeasurementSummary returns the digest of the measurement state.
func (m Measurements) MeasurementSummary(_ context.Context, alg protocol.HashAlg) ([]byte, error) {
	h := alg.New()
	_, _ = h.Write(m.State)
	return h.Sum(nil), nil
}
