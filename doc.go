// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package spdm implements the SPDM challenge-response authentication
// exchange: CHALLENGE, CHALLENGE_AUTH, and the ERROR responses that take
// their place when an exchange cannot proceed.
//
// Wire-level types and values are located in the protocol subpackage. This
// domain package includes the core "entrypoint" types for both roles.
//
// A [Session] carries the parameters negotiated before authentication
// begins: protocol version, hash and signature algorithms, capability flags,
// certificate slot layout, and the append-only transcripts that signatures
// are computed over. Negotiation itself is out of scope; sessions are
// constructed from its already-resolved outcome.
//
// The [Responder] answers CHALLENGE requests. Identity material comes
// through the [CredentialStore] interface so that certificate chains and
// signing keys may live anywhere a [crypto.Signer] can: two implementations
// are included, an in-memory store for tests and [sqlite.DB] in a separate,
// optional module. Keys held in a TPM 2.0 can be used through the tpm
// module.
//
// The [Requester] issues CHALLENGE requests over a [Transport] and verifies
// the returned CHALLENGE_AUTH against expected peer material from
// [PeerCredentials]. For mutual authentication the requester also answers
// challenges itself: [Requester.RespondEncapChallenge] runs the same engine
// as the responder with the roles reversed, signing with the requester
// algorithm and accumulating into the session's mutual-authentication
// transcript.
package spdm
