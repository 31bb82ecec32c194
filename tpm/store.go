// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package tpm

import (
	"context"
	"crypto"
	"fmt"

	"github.com/spdm-tools/go-spdm"
	"github.com/spdm-tools/go-spdm/protocol"
)

// Store serves slot credentials from a TPM: signing keys are TPM-resident
// [Key] handles and certificate chains live in NVRAM behind the PCR policy.
// Like the in-memory store, it serves both store roles: as a
// [spdm.CredentialStore] for the endpoint that owns the TPM and as the
// [spdm.PeerCredentials] describing that endpoint to a verifier with access
// to the same device.
//
// A slot is provisioned when it has an entry in Keys; its chain is read from
// NVRAM on use, so a chain written under a different PCR state stays
// unreachable.
type Store struct {
	// Device is the open TPM holding the keys and chains.
	Device TPM

	// Keys maps provisioned slot indices to their TPM-resident signing keys.
	Keys map[uint8]*Key

	// PCRs selects the PCR policy gating NVRAM access to chains.
	PCRs PCRList

	// ProvisionedSlot resolves the provisioned-identity selector when this
	// store describes a peer.
	ProvisionedSlot uint8
}

var (
	_ spdm.CredentialStore = (*Store)(nil)
	_ spdm.PeerCredentials = (*Store)(nil)
)

// NewStore initializes a store with no provisioned slots.
func NewStore(t TPM, pcrs PCRList) *Store {
	return &Store{Device: t, Keys: make(map[uint8]*Key), PCRs: pcrs}
}

// Provision generates the slot signing key for the given algorithms and
// stores the certificate chain in NVRAM. The returned key is also retained in
// Keys; it is flushed when the store is closed.
func (s *Store) Provision(slot uint8, chain []byte, asym protocol.AsymAlg, hash protocol.HashAlg) (*Key, error) {
	key, err := GenerateKey(s.Device, asym, hash)
	if err != nil {
		return nil, fmt.Errorf("generating key for slot %d: %w", slot, err)
	}
	if err := WriteChain(s.Device, slot, chain, s.PCRs); err != nil {
		_ = key.Close()
		return nil, fmt.Errorf("storing chain for slot %d: %w", slot, err)
	}
	if old, ok := s.Keys[slot]; ok {
		_ = old.Close()
	}
	s.Keys[slot] = key
	return key, nil
}

// CertChainHash digests the chain stored in NVRAM for the given slot.
func (s *Store) CertChainHash(_ context.Context, slot uint8, alg protocol.HashAlg) ([]byte, error) {
	if _, ok := s.Keys[slot]; !ok {
		return nil, fmt.Errorf("certificate chain for slot %d: %w", slot, spdm.ErrNotFound)
	}
	chain, err := ReadChain(s.Device, slot, s.PCRs)
	if err != nil {
		return nil, fmt.Errorf("reading chain for slot %d: %w", slot, err)
	}
	h := alg.New()
	_, _ = h.Write(chain)
	return h.Sum(nil), nil
}

// SlotKey returns the TPM-resident key for the given slot.
func (s *Store) SlotKey(_ context.Context, slot uint8) (crypto.Signer, error) {
	key, ok := s.Keys[slot]
	if !ok {
		return nil, fmt.Errorf("signing key for slot %d: %w", slot, spdm.ErrNotFound)
	}
	return key, nil
}

// PeerCertChainHash digests the chain the selector resolves to.
func (s *Store) PeerCertChainHash(ctx context.Context, id protocol.SlotID, alg protocol.HashAlg) ([]byte, error) {
	return s.CertChainHash(ctx, id.Resolve(s.ProvisionedSlot), alg)
}

// PeerKey returns the public half of the key the selector resolves to.
func (s *Store) PeerKey(_ context.Context, id protocol.SlotID) (crypto.PublicKey, error) {
	key, ok := s.Keys[id.Resolve(s.ProvisionedSlot)]
	if !ok {
		return nil, fmt.Errorf("public key for %s: %w", id, spdm.ErrNotFound)
	}
	return key.Public(), nil
}

// Close flushes every slot key. The first flush error is reported, but all
// keys are flushed regardless.
func (s *Store) Close() error {
	var firstErr error
	for _, key := range s.Keys {
		if err := key.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
