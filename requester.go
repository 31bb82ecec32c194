// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package spdm

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/spdm-tools/go-spdm/protocol"
)

// Requester issues CHALLENGE requests and verifies the responses. For
// mutual authentication it also answers the peer's encapsulated challenges,
// which requires identity material of its own.
type Requester struct {
	// Transport performs message passing and may be implemented over TCP,
	// MCTP, PCIe DOE, and others.
	Transport Transport

	// Peer provides the expected certificate chain digests and public keys
	// used to verify the responder.
	Peer PeerCredentials

	// Store provides this requester's own chains and signing keys for
	// answering encapsulated challenges. May be nil when mutual
	// authentication is not used.
	Store CredentialStore

	// Rand is the entropy source for nonces in encapsulated responses.
	// Defaults to [crypto/rand.Reader].
	Rand io.Reader

	// Errors formats protocol error responses for the encapsulated role.
	// Defaults to the standard 4-byte ERROR PDU.
	Errors ErrorWriter
}

// Challenge runs one authentication exchange: it sends a CHALLENGE for the
// given slot, verifies the returned CHALLENGE_AUTH against the session's
// authentication transcript and the expected peer material, and returns the
// decoded response. A peer ERROR PDU is returned as a
// *[protocol.ErrorMessage] wrapped in the error.
//
// The request and response prefix enter the transcript only once the round
// trip produced a CHALLENGE_AUTH, so a rejected challenge leaves the
// transcript as it was.
func (c *Requester) Challenge(ctx context.Context, sess *Session, slot protocol.SlotID) (*ChallengeAuth, error) {
	if !sess.PeerCaps.SupportsChallenge() {
		return nil, fmt.Errorf("peer did not advertise challenge support")
	}
	req := ChallengeRequest{Version: sess.Version, Slot: slot}.Encode()

	resp, err := c.Transport.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("error sending challenge: %w", err)
	}

	if len(resp) > protocol.CodeOffset && protocol.RequestResponseCode(resp[protocol.CodeOffset]) == protocol.ErrorMsgCode {
		errMsg, err := protocol.ParseErrorMessage(resp)
		if err != nil {
			return nil, fmt.Errorf("error parsing error message contents of challenge response: %w", err)
		}
		return nil, fmt.Errorf("error received from challenge request: %w", errMsg)
	}

	if err := sess.Transcript(protocol.RoleResponder).Append(req); err != nil {
		return nil, fmt.Errorf("error appending challenge request to transcript: %w", err)
	}
	return VerifyChallengeAuth(ctx, sess, protocol.RoleResponder, c.Peer, slot, resp)
}

// RespondEncapChallenge answers a CHALLENGE the peer issued inside an
// already-established session, authenticating this requester back to the
// responder. It runs the identical pipeline as
// [Responder.ProcessChallenge] with the roles reversed: the requester
// signing algorithm applies and the bytes accumulate into the session's
// mutual-authentication transcript. The error contract is the same,
// including the *[protocol.BufferTooSmallError] return for a short resp.
func (c *Requester) RespondEncapChallenge(ctx context.Context, sess *Session, req, resp []byte) (int, error) {
	e := engine{
		role:   protocol.RoleRequester,
		sess:   sess,
		store:  c.Store,
		rng:    c.Rand,
		errors: c.Errors,
	}
	return e.challengeAuth(ctx, req, resp)
}

// VerifyChallengeAuth parses a CHALLENGE_AUTH signed by the given role,
// appends its prefix to the matching transcript, and authenticates the
// signature over the transcript digest against the peer material for the
// challenged slot. The response must also be consistent with the challenge
// that was issued: response version policy, attribute byte, slot bitmask,
// and certificate chain digest are all enforced.
//
// The challenge request itself must already be in the transcript. The
// normal direction verifies with the responder role signing; a responder
// driving mutual authentication verifies its peer's encapsulated response
// with the requester role signing.
func VerifyChallengeAuth(ctx context.Context, sess *Session, signer protocol.Role, peer PeerCredentials, slot protocol.SlotID, resp []byte) (*ChallengeAuth, error) {
	auth, err := sess.ParseChallengeAuth(resp, signer)
	if err != nil {
		return nil, fmt.Errorf("error parsing challenge auth response: %w", err)
	}
	if want := sess.Version.ResponseVersion(); auth.Version != want {
		return nil, fmt.Errorf("response version is %s, expected %s", auth.Version, want)
	}
	if index, ok := slot.Explicit(); ok {
		if auth.Attributes.Slot != index {
			return nil, fmt.Errorf("response attributes name slot %d, challenged slot was %d", auth.Attributes.Slot, index)
		}
		if auth.SlotMask != 1<<index {
			return nil, fmt.Errorf("slot mask %#02x does not select exactly the challenged slot %d", auth.SlotMask, index)
		}
	} else {
		// A provisioned-identity challenge packs the sentinel's low four
		// bits and names no slot position.
		if auth.Attributes.Slot != protocol.SlotSentinel&0x0F {
			return nil, fmt.Errorf("response attributes name slot %d for a provisioned-identity challenge", auth.Attributes.Slot)
		}
		if auth.SlotMask != 0 {
			return nil, fmt.Errorf("slot mask %#02x must be zero for a provisioned-identity challenge", auth.SlotMask)
		}
	}

	expected, err := peer.PeerCertChainHash(ctx, slot, sess.Algorithms.Hash)
	if err != nil {
		return nil, fmt.Errorf("error getting expected peer chain digest: %w", err)
	}
	if !bytes.Equal(auth.CertChainHash, expected) {
		return nil, fmt.Errorf("certificate chain digest does not match the expected peer chain")
	}

	sigSize := sess.signAlg(signer).SignatureSize()
	log := sess.Transcript(signer)
	if err := log.Append(resp[:len(resp)-sigSize]); err != nil {
		return nil, fmt.Errorf("error appending challenge auth response to transcript: %w", err)
	}
	key, err := peer.PeerKey(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("error getting peer public key: %w", err)
	}
	digest := digestTranscript(sess.Algorithms.Hash, log.Bytes())
	if err := verifyTranscript(key, sess.signAlg(signer), sess.Algorithms.Hash, digest, auth.Signature); err != nil {
		return nil, fmt.Errorf("challenge auth signature verification failed: %w", err)
	}
	return auth, nil
}
