// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package spdm

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/spdm-tools/go-spdm/protocol"
)

// Responder answers CHALLENGE requests with signed CHALLENGE_AUTH responses.
type Responder struct {
	// Store provides certificate chain digests and slot signing keys.
	Store CredentialStore

	// Measurements supplies the measurement summary digest for sessions
	// negotiated with one. May be nil for sessions without.
	Measurements MeasurementSource

	// Rand is the entropy source for response nonces. Defaults to
	// [crypto/rand.Reader].
	Rand io.Reader

	// Errors formats protocol error responses. Defaults to the standard
	// 4-byte ERROR PDU.
	Errors ErrorWriter
}

// Respond routes a request PDU to its handler and writes the response into
// resp, returning the number of bytes written. A response is produced for
// every request: requests this responder does not handle produce an
// UnsupportedRequest error PDU carrying the offending code, and requests too
// short to carry a code produce an InvalidRequest error PDU. A non-nil error
// reports only that resp could not hold the response.
func (s *Responder) Respond(ctx context.Context, sess *Session, req, resp []byte) (int, error) {
	if len(req) <= protocol.CodeOffset {
		return s.errorWriter().WriteError(ctx, sess, protocol.ErrInvalidRequest, 0, resp)
	}

	code := protocol.RequestResponseCode(req[protocol.CodeOffset])
	switch code {
	case protocol.ChallengeCode:
		return s.ProcessChallenge(ctx, sess, req, resp)
	default:
		slog.Debug("unsupported request", "code", code)
		return s.errorWriter().WriteError(ctx, sess, protocol.ErrUnsupportedRequest, uint8(code), resp)
	}
}

// ProcessChallenge runs one challenge-auth exchange in the responder role:
// validate the request, accumulate it into the session's authentication
// transcript, assemble the response prefix, accumulate that too, and bind a
// signature over the transcript digest into the response tail.
//
// Classified failures (unsupported capability, malformed request, illegal
// slot, signing failure) complete the exchange with an error PDU in resp and
// a nil error: the peer always receives bytes. The error return is reserved
// for caller-contract conditions, in particular a resp buffer smaller than
// [Session.ChallengeAuthLength], reported as *[protocol.BufferTooSmallError]
// before any state is modified.
func (s *Responder) ProcessChallenge(ctx context.Context, sess *Session, req, resp []byte) (int, error) {
	e := engine{
		role:   protocol.RoleResponder,
		sess:   sess,
		store:  s.Store,
		meas:   s.Measurements,
		rng:    s.Rand,
		errors: s.Errors,
	}
	return e.challengeAuth(ctx, req, resp)
}

func (s *Responder) errorWriter() ErrorWriter {
	if s.Errors != nil {
		return s.Errors
	}
	return pduErrorWriter{}
}

// engine is the role-parameterized challenge-auth pipeline. The responder
// runs it directly; [Requester.RespondEncapChallenge] runs the identical
// pipeline with the roles reversed, so the transcript and signature contract
// cannot drift between the normal and encapsulated directions.
type engine struct {
	role   protocol.Role
	sess   *Session
	store  CredentialStore
	meas   MeasurementSource
	rng    io.Reader
	errors ErrorWriter
}

func (e engine) challengeAuth(ctx context.Context, req, resp []byte) (int, error) {
	if e.rng == nil {
		e.rng = rand.Reader
	}
	if e.errors == nil {
		e.errors = pduErrorWriter{}
	}

	// Validate: capability, exact size, slot bound. The first failure wins
	// and no later check runs.
	if !e.sess.LocalCaps.SupportsChallenge() || !e.sess.signAlg(e.role).IsValid() {
		return e.writeError(ctx, protocol.ErrUnsupportedRequest, uint8(protocol.ChallengeCode), resp)
	}
	creq, err := ParseChallengeRequest(req)
	if err != nil {
		return e.writeError(ctx, protocol.ErrInvalidRequest, 0, resp)
	}
	if index, ok := creq.Slot.Explicit(); ok && index >= e.sess.SlotCount {
		return e.writeError(ctx, protocol.ErrInvalidRequest, 0, resp)
	}

	// The response length is fixed by the session parameters. A short
	// caller buffer is rejected before any state changes, so the caller can
	// recover by retrying with ChallengeAuthLength bytes.
	respLen := e.sess.ChallengeAuthLength(e.role)
	if len(resp) < respLen {
		return 0, &protocol.BufferTooSmallError{Required: respLen}
	}

	log := e.sess.Transcript(e.role)
	if err := log.Append(req); err != nil {
		return e.writeError(ctx, protocol.ErrInvalidRequest, 0, resp)
	}

	// Assemble the response prefix.
	effective := creq.Slot.Resolve(e.sess.ProvisionedSlot)
	hashSize := e.sess.Algorithms.Hash.Size()
	sigSize := e.sess.signAlg(e.role).SignatureSize()
	prefix := resp[:respLen-sigSize]

	prefix[protocol.VersionOffset] = byte(e.sess.Version.ResponseVersion())
	prefix[protocol.CodeOffset] = byte(protocol.ChallengeAuthCode)
	// The attribute slot field is the request's wire value masked to four
	// bits, so the sentinel packs as 0xF.
	prefix[protocol.Param1Offset] = protocol.AuthAttributes{Slot: creq.Slot.Wire()}.Pack()
	if index, ok := creq.Slot.Explicit(); ok {
		prefix[protocol.Param2Offset] = 1 << index
	} else {
		// The sentinel names no slot position even though the provisioned
		// slot's chain signs.
		prefix[protocol.Param2Offset] = 0
	}

	chainHash, err := e.store.CertChainHash(ctx, effective, e.sess.Algorithms.Hash)
	if err != nil || len(chainHash) != hashSize {
		return e.writeError(ctx, protocol.ErrUnspecified, 0, resp)
	}
	off := protocol.HeaderSize
	copy(prefix[off:], chainHash)
	off += hashSize

	if _, err := io.ReadFull(e.rng, prefix[off:off+protocol.NonceSize]); err != nil {
		return e.writeError(ctx, protocol.ErrUnspecified, 0, resp)
	}
	off += protocol.NonceSize

	if e.sess.summaryPresent(e.role) {
		if e.meas == nil {
			return e.writeError(ctx, protocol.ErrUnspecified, 0, resp)
		}
		summary, err := e.meas.MeasurementSummary(ctx, e.sess.Algorithms.Hash)
		if err != nil || len(summary) != hashSize {
			return e.writeError(ctx, protocol.ErrUnspecified, 0, resp)
		}
		copy(prefix[off:], summary)
		off += hashSize
	}

	binary.LittleEndian.PutUint16(prefix[off:], uint16(len(e.sess.OpaqueData)))
	off += 2
	copy(prefix[off:], e.sess.OpaqueData)

	// Bind the signature. The transcript covers the request and the full
	// response prefix; the signature itself is never appended, so the
	// session layer may keep extending the same transcript afterward.
	if err := log.Append(prefix); err != nil {
		return e.writeError(ctx, protocol.ErrInvalidRequest, 0, resp)
	}
	key, err := e.store.SlotKey(ctx, effective)
	if err != nil {
		return e.writeError(ctx, protocol.ErrUnsupportedRequest, uint8(protocol.ChallengeAuthCode), resp)
	}
	digest := digestTranscript(e.sess.Algorithms.Hash, log.Bytes())
	if err := signTranscript(e.rng, key, e.sess.signAlg(e.role), e.sess.Algorithms.Hash, digest, resp[len(prefix):respLen]); err != nil {
		return e.writeError(ctx, protocol.ErrUnsupportedRequest, uint8(protocol.ChallengeAuthCode), resp)
	}
	return respLen, nil
}

func (e engine) writeError(ctx context.Context, code protocol.ErrCode, aux uint8, resp []byte) (int, error) {
	return e.errors.WriteError(ctx, e.sess, code, aux, resp)
}
