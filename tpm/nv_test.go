// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package tpm_test

import (
	"bytes"
	"crypto"
	"testing"

	"github.com/google/go-tpm/tpm2/transport/simulator"

	"github.com/spdm-tools/go-spdm/tpm"
)

func TestChainStorage(t *testing.T) {
	pcrs := tpm.PCRList{
		crypto.SHA256: []int{1, 2, 3, 4},
	}
	const slot = 3

	t.Run("Read missing", func(t *testing.T) {
		sim, err := simulator.OpenSimulator()
		if err != nil {
			t.Fatalf("error opening opening TPM simulator: %v", err)
		}
		defer func() {
			if err := sim.Close(); err != nil {
				t.Error(err)
			}
		}()

		if _, err := tpm.ReadChain(sim, slot, pcrs); err == nil {
			t.Error("expected error reading missing chain")
		} else {
			t.Log(err)
		}
	})

	t.Run("Write then read", func(t *testing.T) {
		sim, err := simulator.OpenSimulator()
		if err != nil {
			t.Fatalf("error opening opening TPM simulator: %v", err)
		}
		defer func() {
			if err := sim.Close(); err != nil {
				t.Error(err)
			}
		}()

		expect := []byte("certificate chain for slot 3")
		if err := tpm.WriteChain(sim, slot, expect, pcrs); err != nil {
			t.Fatal(err)
		}
		got, err := tpm.ReadChain(sim, slot, pcrs)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(expect, got) {
			t.Fatalf("expected %x, got %x", expect, got)
		}
	})

	t.Run("Write then overwrite then read", func(t *testing.T) {
		sim, err := simulator.OpenSimulator()
		if err != nil {
			t.Fatalf("error opening opening TPM simulator: %v", err)
		}
		defer func() {
			if err := sim.Close(); err != nil {
				t.Error(err)
			}
		}()

		expect := []byte("certificate chain for slot 3")
		if err := tpm.WriteChain(sim, slot, expect[:len(expect)-2], pcrs); err != nil {
			t.Fatal(err)
		}
		if err := tpm.WriteChain(sim, slot, expect, pcrs); err != nil {
			t.Fatal(err)
		}
		got, err := tpm.ReadChain(sim, slot, pcrs)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(expect, got) {
			t.Fatalf("expected %x, got %x", expect, got)
		}
	})

	t.Run("Write then read with bad policy", func(t *testing.T) {
		sim, err := simulator.OpenSimulator()
		if err != nil {
			t.Fatalf("error opening opening TPM simulator: %v", err)
		}
		defer func() {
			if err := sim.Close(); err != nil {
				t.Error(err)
			}
		}()

		expect := []byte("certificate chain for slot 3")
		if err := tpm.WriteChain(sim, slot, expect, pcrs); err != nil {
			t.Fatal(err)
		}
		if _, err := tpm.ReadChain(sim, slot, tpm.PCRList{
			crypto.SHA256: []int{7},
		}); err == nil {
			t.Fatal("expected an error when reading with bad PCR selection")
		} else {
			t.Log(err)
		}
	})

	t.Run("Slots are independent", func(t *testing.T) {
		sim, err := simulator.OpenSimulator()
		if err != nil {
			t.Fatalf("error opening opening TPM simulator: %v", err)
		}
		defer func() {
			if err := sim.Close(); err != nil {
				t.Error(err)
			}
		}()

		chain0, chain1 := []byte("chain zero"), []byte("chain one")
		if err := tpm.WriteChain(sim, 0, chain0, pcrs); err != nil {
			t.Fatal(err)
		}
		if err := tpm.WriteChain(sim, 1, chain1, pcrs); err != nil {
			t.Fatal(err)
		}
		got, err := tpm.ReadChain(sim, 0, pcrs)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(chain0, got) {
			t.Fatalf("expected %x, got %x", chain0, got)
		}
	})

	t.Run("Slot out of range", func(t *testing.T) {
		sim, err := simulator.OpenSimulator()
		if err != nil {
			t.Fatalf("error opening opening TPM simulator: %v", err)
		}
		defer func() {
			if err := sim.Close(); err != nil {
				t.Error(err)
			}
		}()

		if err := tpm.WriteChain(sim, 8, []byte("chain"), pcrs); err == nil {
			t.Error("expected error writing out-of-range slot")
		}
		if _, err := tpm.ReadChain(sim, 8, pcrs); err == nil {
			t.Error("expected error reading out-of-range slot")
		}
	})
}
