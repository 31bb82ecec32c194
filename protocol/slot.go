// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package protocol

import "fmt"

// SlotSentinel is the wire value meaning "no explicit slot": the responder
// uses its provisioned default identity instead of an indexed slot.
const SlotSentinel byte = 0xFF

// MaxSlots is the architectural limit on certificate slots per endpoint. The
// slot bitmask in CHALLENGE_AUTH is a single byte, so slot indices above 7
// cannot be represented.
const MaxSlots = 8

// SlotID selects the certificate chain and signing key for an exchange:
// either an explicit slot index or the endpoint's provisioned identity. It is
// a tagged selector rather than a raw byte so the sentinel can never be
// confused with an index; conversion to the wire value happens only at
// serialization boundaries.
type SlotID struct {
	index       uint8
	provisioned bool
}

// ExplicitSlot selects the chain in a concrete slot index.
func ExplicitSlot(index uint8) SlotID { return SlotID{index: index} }

// ProvisionedSlot selects the endpoint's default provisioned identity.
func ProvisionedSlot() SlotID { return SlotID{provisioned: true} }

// ParseSlotID converts the wire byte of a request's param1 field.
func ParseSlotID(b byte) SlotID {
	if b == SlotSentinel {
		return ProvisionedSlot()
	}
	return ExplicitSlot(b)
}

// IsProvisioned reports whether the selector is the provisioned identity.
func (id SlotID) IsProvisioned() bool { return id.provisioned }

// Explicit returns the concrete index and true, or zero and false for the
// provisioned selector.
func (id SlotID) Explicit() (index uint8, ok bool) {
	if id.provisioned {
		return 0, false
	}
	return id.index, true
}

// Resolve returns the effective slot index: the explicit index, or the given
// provisioned index when the selector is the sentinel.
func (id SlotID) Resolve(provisioned uint8) uint8 {
	if id.provisioned {
		return provisioned
	}
	return id.index
}

// Wire returns the byte representation used in request param1.
func (id SlotID) Wire() byte {
	if id.provisioned {
		return SlotSentinel
	}
	return id.index
}

func (id SlotID) String() string {
	if id.provisioned {
		return "provisioned"
	}
	return fmt.Sprintf("slot %d", id.index)
}

// Attribute byte sub-field layout.
const (
	attrSlotMask     = 0x0F
	attrBasicMutAuth = 0x10
	attrReservedMask = 0xE0
)

// AuthAttributes is the decoded attribute byte of a CHALLENGE_AUTH header:
// the low four bits carry the requested slot value and one flag indicates
// that the signer wants basic mutual authentication in return. The remaining
// bits are reserved and must be zero on the wire.
type AuthAttributes struct {
	Slot         uint8
	BasicMutAuth bool
}

// Pack encodes the attributes into the wire byte. The slot value is masked
// to its four-bit field and reserved bits are always emitted zero.
func (a AuthAttributes) Pack() byte {
	b := a.Slot & attrSlotMask
	if a.BasicMutAuth {
		b |= attrBasicMutAuth
	}
	return b
}

// ParseAuthAttributes decodes an attribute byte, rejecting any value with
// reserved bits set.
func ParseAuthAttributes(b byte) (AuthAttributes, error) {
	if b&attrReservedMask != 0 {
		return AuthAttributes{}, fmt.Errorf("reserved attribute bits set: %#02x", b)
	}
	return AuthAttributes{
		Slot:         b & attrSlotMask,
		BasicMutAuth: b&attrBasicMutAuth != 0,
	}, nil
}
