// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"

	"github.com/spdm-tools/go-spdm"
	"github.com/spdm-tools/go-spdm/internal/memory"
	"github.com/spdm-tools/go-spdm/protocol"
	"github.com/spdm-tools/go-spdm/tcp"
)

var responderFlags = flag.NewFlagSet("responder", flag.ContinueOnError)

var (
	listenAddr string
	slotCount  uint
	opaqueData string
)

func init() {
	registerCommonFlags(responderFlags)
	responderFlags.StringVar(&listenAddr, "addr", ":4250", "The `addr`ess to listen on")
	responderFlags.UintVar(&slotCount, "slots", 2, "Number of certificate `slot`s to generate")
	responderFlags.StringVar(&opaqueData, "opaque", "", "Opaque `data` echoed in every response")
}

func responder() error {
	hash, err := parseHashAlg(hashName)
	if err != nil {
		return err
	}
	asym, err := parseAsymAlg(asymName)
	if err != nil {
		return err
	}
	if slotCount < 1 || slotCount > protocol.MaxSlots {
		return fmt.Errorf("slot count %d out of range [1,%d]", slotCount, protocol.MaxSlots)
	}

	store, err := loadState(statePath)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("generating identity material", "path", statePath, "slots", slotCount, "alg", asym)
		store, err = generateState(statePath, uint8(slotCount), asym)
	}
	if err != nil {
		return err
	}

	// The state file fixes the slot layout once generated.
	slots := uint8(len(store.Slots))
	if provisionedSlot >= uint(slots) {
		return fmt.Errorf("provisioned slot %d outside slot count %d", provisionedSlot, slots)
	}
	store.ProvisionedSlot = uint8(provisionedSlot)

	caps := protocol.CapCert | protocol.CapChallenge
	if measurements {
		caps |= protocol.CapMeasureSig
	}
	cfg := spdm.SessionConfig{
		Version:            protocol.Version11,
		Algorithms:         protocol.Algorithms{Hash: hash, Asym: asym},
		LocalCaps:          caps,
		PeerCaps:           caps,
		SlotCount:          slots,
		ProvisionedSlot:    uint8(provisionedSlot),
		OpaqueData:         []byte(opaqueData),
		MeasurementSummary: measurements,
	}

	handler := &spdm.Responder{Store: store}
	if measurements {
		handler.Measurements = memory.Measurements{State: []byte("spdm demo measurement state")}
	}

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", listenAddr, err)
	}
	slog.Info("listening", "addr", lis.Addr(), "slots", slots, "hash", hash, "asym", asym)

	srv := &tcp.Server{
		Responder:  handler,
		NewSession: func() (*spdm.Session, error) { return spdm.NewSession(cfg) },
	}
	return srv.Serve(lis)
}
