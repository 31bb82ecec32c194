// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package protocol

// CapabilityFlags is the bitmask each endpoint advertises during capability
// negotiation (DSP0274 GET_CAPABILITIES / CAPABILITIES Flags field). The
// engine only consults the bits relevant to the challenge-response exchange;
// the rest are carried opaquely.
type CapabilityFlags uint32

// Capability flag bits shared by both directions. CapCache is meaningful only
// in responder flags and CapMutAuth only matters when both endpoints set it.
const (
	CapCache        CapabilityFlags = 0x00000001
	CapCert         CapabilityFlags = 0x00000002
	CapChallenge    CapabilityFlags = 0x00000004
	CapMeasureNoSig CapabilityFlags = 0x00000008
	CapMeasureSig   CapabilityFlags = 0x00000010
	CapMutAuth      CapabilityFlags = 0x00000100
	CapEncap        CapabilityFlags = 0x00001000
)

// Has reports whether all bits of mask are set.
func (f CapabilityFlags) Has(mask CapabilityFlags) bool { return f&mask == mask }

// SupportsChallenge reports whether the endpoint advertised the ability to
// answer a CHALLENGE with a signed CHALLENGE_AUTH.
func (f CapabilityFlags) SupportsChallenge() bool { return f.Has(CapChallenge) }

// SupportsMeasurementSummary reports whether the endpoint can produce
// measurement digests in either measurement capability mode.
func (f CapabilityFlags) SupportsMeasurementSummary() bool {
	return f&(CapMeasureNoSig|CapMeasureSig) != 0
}
