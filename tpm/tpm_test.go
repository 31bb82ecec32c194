// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package tpm_test

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"errors"
	"testing"

	"github.com/google/go-tpm/tpm2/transport/simulator"

	"github.com/spdm-tools/go-spdm"
	"github.com/spdm-tools/go-spdm/protocol"
	"github.com/spdm-tools/go-spdm/spdmtest"
	"github.com/spdm-tools/go-spdm/tpm"
)

func TestStore(t *testing.T) {
	sim, err := simulator.OpenSimulator()
	if err != nil {
		t.Fatalf("error opening opening TPM simulator: %v", err)
	}
	defer func() {
		if err := sim.Close(); err != nil {
			t.Error(err)
		}
	}()

	store := tpm.NewStore(sim, tpm.PCRList{
		crypto.SHA256: []int{1, 2, 3, 4},
	})
	defer func() {
		if err := store.Close(); err != nil {
			t.Error(err)
		}
	}()
	ctx := context.Background()

	chain := []byte("responder chain 0")
	key, err := store.Provision(0, chain, protocol.ECDSAP256, protocol.SHA256)
	if err != nil {
		t.Fatalf("error provisioning slot 0: %v", err)
	}

	t.Run("Chain digest", func(t *testing.T) {
		h := protocol.SHA256.New()
		_, _ = h.Write(chain)
		want := h.Sum(nil)

		got, err := store.CertChainHash(ctx, 0, protocol.SHA256)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(want, got) {
			t.Errorf("chain digest is %x, expected %x", got, want)
		}
	})

	t.Run("Key round trip", func(t *testing.T) {
		signer, err := store.SlotKey(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		pub, err := store.PeerKey(ctx, protocol.ExplicitSlot(0))
		if err != nil {
			t.Fatal(err)
		}
		if !signer.Public().(*ecdsa.PublicKey).Equal(pub) {
			t.Error("peer key does not match slot key")
		}
	})

	t.Run("Unknown slot", func(t *testing.T) {
		if _, err := store.CertChainHash(ctx, 5, protocol.SHA256); !errors.Is(err, spdm.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := store.SlotKey(ctx, 5); !errors.Is(err, spdm.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := store.PeerKey(ctx, protocol.ExplicitSlot(5)); !errors.Is(err, spdm.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Provisioned selector", func(t *testing.T) {
		want, err := store.CertChainHash(ctx, 0, protocol.SHA256)
		if err != nil {
			t.Fatal(err)
		}
		got, err := store.PeerCertChainHash(ctx, protocol.ProvisionedSlot(), protocol.SHA256)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(want, got) {
			t.Error("provisioned selector does not resolve to slot 0")
		}
	})

	t.Run("Reprovision", func(t *testing.T) {
		newChain := []byte("responder chain 0 v2")
		newKey, err := store.Provision(0, newChain, protocol.ECDSAP256, protocol.SHA256)
		if err != nil {
			t.Fatalf("error reprovisioning slot 0: %v", err)
		}

		h := protocol.SHA256.New()
		_, _ = h.Write(newChain)
		want := h.Sum(nil)
		got, err := store.CertChainHash(ctx, 0, protocol.SHA256)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(want, got) {
			t.Error("chain digest still matches the replaced chain")
		}

		// The old handle was flushed; primary key derivation makes the new
		// key's public half identical.
		if !key.Public().(*ecdsa.PublicKey).Equal(newKey.Public()) {
			t.Error("reprovisioning with the same algorithms changed the key")
		}
	})
}

func TestExchangeSuite(t *testing.T) {
	sim, err := simulator.OpenSimulator()
	if err != nil {
		t.Fatalf("error opening opening TPM simulator: %v", err)
	}
	defer func() {
		if err := sim.Close(); err != nil {
			t.Error(err)
		}
	}()

	store := tpm.NewStore(sim, tpm.PCRList{
		crypto.SHA256: []int{1, 2, 3, 4},
	})
	defer func() {
		if err := store.Close(); err != nil {
			t.Error(err)
		}
	}()
	if _, err := store.Provision(0, []byte("responder chain 0"), protocol.ECDSAP256, protocol.SHA256); err != nil {
		t.Fatalf("error provisioning slot 0: %v", err)
	}

	spdmtest.RunExchangeSuite(t, spdmtest.Config{
		Hash:      protocol.SHA256,
		Asym:      protocol.ECDSAP256,
		ReqAsym:   protocol.ECDSAP256,
		SlotCount: 1,
		State:     store,
	})
}
