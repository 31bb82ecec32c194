// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package spdm

import (
	"fmt"
	"math"

	"github.com/spdm-tools/go-spdm/protocol"
	"github.com/spdm-tools/go-spdm/transcript"
)

// SessionConfig is the outcome of version, capability, and algorithm
// negotiation plus the local identity layout, fixed for the lifetime of a
// session.
type SessionConfig struct {
	// Version is the negotiated protocol version.
	Version protocol.Version

	// Algorithms holds the negotiated hash and signature algorithms.
	Algorithms protocol.Algorithms

	// LocalCaps and PeerCaps are the capability flags each endpoint
	// advertised during negotiation.
	LocalCaps protocol.CapabilityFlags
	PeerCaps  protocol.CapabilityFlags

	// SlotCount is the number of certificate slots the local endpoint
	// exposes, between 1 and [protocol.MaxSlots].
	SlotCount uint8

	// ProvisionedSlot is the local slot used when a challenge selects the
	// provisioned identity instead of an explicit slot.
	ProvisionedSlot uint8

	// OpaqueData is carried verbatim in every CHALLENGE_AUTH this endpoint
	// generates. May be empty.
	OpaqueData []byte

	// MeasurementSummary selects whether responder CHALLENGE_AUTH messages
	// in this session carry a measurement summary digest. Both endpoints of
	// a session must agree on it or verification fails on length.
	MeasurementSummary bool

	// TranscriptCapacity bounds each transcript in bytes. Zero means
	// unbounded.
	TranscriptCapacity int
}

// Session is the mutable context of one protocol session: the negotiated
// configuration plus the transcripts of its authentication exchanges. A
// session is owned by exactly one connection to one peer. The configuration
// fields must not be modified after [NewSession] returns.
//
// Sessions are not safe for concurrent use. Callers must serialize exchanges
// per session; independent sessions share no state and need no coordination.
type Session struct {
	SessionConfig

	auth   *transcript.Log
	mutual *transcript.Log
}

// NewSession validates a negotiated configuration and returns a session
// ready for its first authentication exchange.
func NewSession(cfg SessionConfig) (*Session, error) {
	if !cfg.Version.IsValid() {
		return nil, fmt.Errorf("unsupported protocol version %s", cfg.Version)
	}
	if !cfg.Algorithms.Hash.IsValid() {
		return nil, fmt.Errorf("invalid hash algorithm %#x", uint32(cfg.Algorithms.Hash))
	}
	if !cfg.Algorithms.Asym.IsValid() {
		return nil, fmt.Errorf("invalid signature algorithm %#x", uint32(cfg.Algorithms.Asym))
	}
	if cfg.Algorithms.ReqAsym != 0 && !cfg.Algorithms.ReqAsym.IsValid() {
		return nil, fmt.Errorf("invalid requester signature algorithm %#x", uint32(cfg.Algorithms.ReqAsym))
	}
	if cfg.SlotCount < 1 || cfg.SlotCount > protocol.MaxSlots {
		return nil, fmt.Errorf("slot count %d out of range [1,%d]", cfg.SlotCount, protocol.MaxSlots)
	}
	if cfg.ProvisionedSlot >= cfg.SlotCount {
		return nil, fmt.Errorf("provisioned slot %d outside slot count %d", cfg.ProvisionedSlot, cfg.SlotCount)
	}
	if len(cfg.OpaqueData) > math.MaxUint16 {
		return nil, fmt.Errorf("opaque data of %d bytes exceeds the 2-byte length field", len(cfg.OpaqueData))
	}

	newLog := transcript.New
	if cfg.TranscriptCapacity > 0 {
		newLog = func() *transcript.Log { return transcript.NewBounded(cfg.TranscriptCapacity) }
	}
	return &Session{
		SessionConfig: cfg,
		auth:          newLog(),
		mutual:        newLog(),
	}, nil
}

// Transcript returns the transcript accumulating the exchange in which the
// given role authenticates: the responder role selects the main
// authentication transcript, the requester role the mutual-authentication
// transcript used by encapsulated challenges.
func (s *Session) Transcript(signer protocol.Role) *transcript.Log {
	if signer == protocol.RoleRequester {
		return s.mutual
	}
	return s.auth
}

// BeginExchange starts a fresh authentication exchange for the given signing
// role by resetting its transcript. This is the only way a transcript is
// ever cleared: the challenge engine itself appends but never resets, so
// that a session layer may keep extending one transcript across messages.
func (s *Session) BeginExchange(signer protocol.Role) {
	s.Transcript(signer).Reset()
}

// ChallengeAuthLength returns the exact length of a CHALLENGE_AUTH response
// generated by this endpoint with the given role signing. The length is
// fully determined by the negotiated hash size, the signing algorithm's
// signature size, and the configured opaque data.
func (s *Session) ChallengeAuthLength(signer protocol.Role) int {
	hashSize := s.Algorithms.Hash.Size()
	n := protocol.HeaderSize + hashSize + protocol.NonceSize
	if s.summaryPresent(signer) {
		n += hashSize
	}
	n += 2 + len(s.OpaqueData)
	return n + s.signAlg(signer).SignatureSize()
}

// signAlg returns the algorithm that signs CHALLENGE_AUTH for the given
// role. A zero value means the role cannot sign in this session.
func (s *Session) signAlg(signer protocol.Role) protocol.AsymAlg {
	if signer == protocol.RoleRequester {
		return s.Algorithms.ReqAsym
	}
	return s.Algorithms.Asym
}

// summaryPresent reports whether a CHALLENGE_AUTH signed by the given role
// carries a measurement summary digest. Only the responder has measurement
// state; responses in the encapsulated direction never carry one.
func (s *Session) summaryPresent(signer protocol.Role) bool {
	return s.MeasurementSummary && signer == protocol.RoleResponder
}
