// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package protocol contains common protocol-related types and values.
package protocol

// RequestResponseCode identifies an SPDM message. Request codes have the high
// bit set, response codes do not. See DSP0274, SPDM request and response code
// tables.
type RequestResponseCode uint8

// Codes used by the challenge-response authentication exchange. Codes for
// other exchanges (capability discovery, certificate retrieval, measurement
// collection) are negotiated before this exchange runs and never reach the
// engine, so they are not enumerated here.
const (
	ChallengeCode     RequestResponseCode = 0x83
	ChallengeAuthCode RequestResponseCode = 0x03
	ErrorMsgCode      RequestResponseCode = 0x7F
)

func (c RequestResponseCode) String() string {
	switch c {
	case ChallengeCode:
		return "CHALLENGE"
	case ChallengeAuthCode:
		return "CHALLENGE_AUTH"
	case ErrorMsgCode:
		return "ERROR"
	default:
		return "unknown"
	}
}

// IsRequest reports whether the code identifies a request message.
func (c RequestResponseCode) IsRequest() bool { return c&0x80 != 0 }

// Every SPDM message begins with the same four header bytes: version,
// request/response code, and two code-specific parameter bytes.
const (
	HeaderSize = 4

	VersionOffset = 0
	CodeOffset    = 1
	Param1Offset  = 2
	Param2Offset  = 3
)

// NonceSize is the fixed size of the nonce carried in CHALLENGE_AUTH.
const NonceSize = 32

// Nonce is the fresh random value a signer binds into its response so that
// signatures cannot be replayed across exchanges.
type Nonce [NonceSize]byte

// Role distinguishes which endpoint of a session produces a signed response.
// The challenge-response engine runs in both: a Responder answers CHALLENGE
// directly, and a Requester answers an encapsulated CHALLENGE during mutual
// authentication.
type Role uint8

// Endpoint roles
const (
	RoleRequester Role = iota
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleRequester:
		return "requester"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}
