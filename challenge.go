// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package spdm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/spdm-tools/go-spdm/protocol"
)

// ChallengeRequest is the fixed-size CHALLENGE message: a bare header whose
// param1 selects the certificate slot to authenticate with.
type ChallengeRequest struct {
	Version protocol.Version
	Slot    protocol.SlotID
}

// Encode returns the 4-byte wire form. The reserved param2 byte is always
// zero.
func (r ChallengeRequest) Encode() []byte {
	return []byte{byte(r.Version), byte(protocol.ChallengeCode), r.Slot.Wire(), 0x00}
}

// ParseChallengeRequest decodes a CHALLENGE message. The request is
// fixed-size: any other length is malformed. The reserved param2 byte is
// ignored, not enforced zero, so that future revisions may assign it.
func ParseChallengeRequest(data []byte) (ChallengeRequest, error) {
	if len(data) != protocol.HeaderSize {
		return ChallengeRequest{}, fmt.Errorf("challenge request is %d bytes, must be exactly %d", len(data), protocol.HeaderSize)
	}
	if code := protocol.RequestResponseCode(data[protocol.CodeOffset]); code != protocol.ChallengeCode {
		return ChallengeRequest{}, fmt.Errorf("message code %s is not a challenge request", code)
	}
	return ChallengeRequest{
		Version: protocol.Version(data[protocol.VersionOffset]),
		Slot:    protocol.ParseSlotID(data[protocol.Param1Offset]),
	}, nil
}

// ChallengeAuth is a decoded CHALLENGE_AUTH response. Byte slices are owned
// by the message, not aliased into the buffer it was parsed from.
type ChallengeAuth struct {
	Version       protocol.Version
	Attributes    protocol.AuthAttributes
	SlotMask      uint8
	CertChainHash []byte
	Nonce         protocol.Nonce

	// MeasurementSummary is nil when the session does not carry measurement
	// summaries; absence is a zero-length field on the wire, not a zeroed
	// digest.
	MeasurementSummary []byte

	Opaque    []byte
	Signature []byte
}

// BasicMutAuth reports whether the signer asked for basic mutual
// authentication in return, which the receiving requester honors by
// answering the peer's encapsulated challenge.
func (a *ChallengeAuth) BasicMutAuth() bool { return a.Attributes.BasicMutAuth }

// ParseChallengeAuth decodes a CHALLENGE_AUTH signed by the given role.
// Every field length except the opaque data is fixed by the session's
// negotiated parameters; the total length must match exactly.
func (s *Session) ParseChallengeAuth(data []byte, signer protocol.Role) (*ChallengeAuth, error) {
	hashSize := s.Algorithms.Hash.Size()
	sigSize := s.signAlg(signer).SignatureSize()
	summarySize := 0
	if s.summaryPresent(signer) {
		summarySize = hashSize
	}

	// Fixed-size portion up to and including the opaque length field.
	prefixSize := protocol.HeaderSize + hashSize + protocol.NonceSize + summarySize + 2
	if len(data) < prefixSize+sigSize {
		return nil, fmt.Errorf("challenge auth response is %d bytes, shorter than the %d byte minimum", len(data), prefixSize+sigSize)
	}
	if code := protocol.RequestResponseCode(data[protocol.CodeOffset]); code != protocol.ChallengeAuthCode {
		return nil, fmt.Errorf("message code %s is not a challenge auth response", code)
	}
	attrs, err := protocol.ParseAuthAttributes(data[protocol.Param1Offset])
	if err != nil {
		return nil, fmt.Errorf("parsing response attributes: %w", err)
	}

	auth := &ChallengeAuth{
		Version:    protocol.Version(data[protocol.VersionOffset]),
		Attributes: attrs,
		SlotMask:   data[protocol.Param2Offset],
	}
	off := protocol.HeaderSize
	auth.CertChainHash = bytes.Clone(data[off : off+hashSize])
	off += hashSize
	copy(auth.Nonce[:], data[off:off+protocol.NonceSize])
	off += protocol.NonceSize
	if summarySize > 0 {
		auth.MeasurementSummary = bytes.Clone(data[off : off+summarySize])
		off += summarySize
	}
	opaqueLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2

	if total := prefixSize + opaqueLen + sigSize; len(data) != total {
		return nil, fmt.Errorf("challenge auth response is %d bytes, expected %d for %d bytes of opaque data", len(data), total, opaqueLen)
	}
	auth.Opaque = bytes.Clone(data[off : off+opaqueLen])
	off += opaqueLen
	auth.Signature = bytes.Clone(data[off:])
	return auth, nil
}
