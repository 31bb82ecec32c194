// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/spdm-tools/go-spdm"
	"github.com/spdm-tools/go-spdm/protocol"
	"github.com/spdm-tools/go-spdm/tcp"
)

var requesterFlags = flag.NewFlagSet("requester", flag.ContinueOnError)

var (
	peerAddr    string
	slotNum     uint
	provisioned bool
	timeout     time.Duration
)

func init() {
	registerCommonFlags(requesterFlags)
	requesterFlags.StringVar(&peerAddr, "addr", "127.0.0.1:4250", "The `addr`ess of the responder")
	requesterFlags.UintVar(&slotNum, "slot", 0, "Certificate `slot` to challenge")
	requesterFlags.BoolVar(&provisioned, "provisioned", false, "Challenge the provisioned identity instead of a slot")
	requesterFlags.DurationVar(&timeout, "timeout", 5*time.Second, "Round-trip `timeout`")
}

func requester() error {
	hash, err := parseHashAlg(hashName)
	if err != nil {
		return err
	}
	asym, err := parseAsymAlg(asymName)
	if err != nil {
		return err
	}
	if slotNum >= protocol.MaxSlots {
		return fmt.Errorf("slot %d out of range [0,%d]", slotNum, protocol.MaxSlots-1)
	}

	// The state file doubles as the requester's view of the peer: chains
	// for expected digests and keys for their public halves.
	store, err := loadState(statePath)
	if err != nil {
		return fmt.Errorf("no responder identity available, run the responder once to generate it: %w", err)
	}
	store.ProvisionedSlot = uint8(provisionedSlot)

	caps := protocol.CapCert | protocol.CapChallenge
	if measurements {
		caps |= protocol.CapMeasureSig
	}
	sess, err := spdm.NewSession(spdm.SessionConfig{
		Version:            protocol.Version11,
		Algorithms:         protocol.Algorithms{Hash: hash, Asym: asym},
		LocalCaps:          caps,
		PeerCaps:           caps,
		SlotCount:          1,
		MeasurementSummary: measurements,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	transport, err := tcp.Dial(ctx, peerAddr)
	if err != nil {
		return err
	}
	defer func() { _ = transport.Close() }()

	client := &spdm.Requester{Transport: transport, Peer: store}
	slot := protocol.ExplicitSlot(uint8(slotNum))
	if provisioned {
		slot = protocol.ProvisionedSlot()
	}

	auth, err := client.Challenge(ctx, sess, slot)
	if err != nil {
		return err
	}

	fmt.Printf("challenge auth verified [%s, slot mask %02x]\n", slot, auth.SlotMask)
	fmt.Printf("  chain digest: %x\n", auth.CertChainHash)
	fmt.Printf("  nonce:        %x\n", auth.Nonce)
	if auth.MeasurementSummary != nil {
		fmt.Printf("  measurements: %x\n", auth.MeasurementSummary)
	}
	if len(auth.Opaque) > 0 {
		fmt.Printf("  opaque:       %q\n", auth.Opaque)
	}
	return nil
}
