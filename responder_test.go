// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package spdm_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"testing/iotest"

	"github.com/spdm-tools/go-spdm"
	"github.com/spdm-tools/go-spdm/internal/memory"
	"github.com/spdm-tools/go-spdm/protocol"
	"github.com/spdm-tools/go-spdm/spdmtest"
)

const testSlotCount = 3

func newSession(t *testing.T, mods ...func(*spdm.SessionConfig)) *spdm.Session {
	t.Helper()
	cfg := spdm.SessionConfig{
		Version: protocol.Version11,
		Algorithms: protocol.Algorithms{
			Hash:    protocol.SHA256,
			Asym:    protocol.ECDSAP256,
			ReqAsym: protocol.ECDSAP256,
		},
		LocalCaps:       protocol.CapCert | protocol.CapChallenge | protocol.CapMutAuth,
		PeerCaps:        protocol.CapCert | protocol.CapChallenge | protocol.CapMutAuth,
		SlotCount:       testSlotCount,
		ProvisionedSlot: 1,
	}
	for _, mod := range mods {
		mod(&cfg)
	}
	sess, err := spdm.NewSession(cfg)
	if err != nil {
		t.Fatalf("error building session: %v", err)
	}
	return sess
}

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	store.ProvisionedSlot = 1
	for i := uint8(0); i < testSlotCount; i++ {
		store.AddSlot(i, []byte(fmt.Sprintf("certificate chain %d", i)), spdmtest.GenerateKey(t, protocol.ECDSAP256))
	}
	return store
}

func expectErrorPDU(t *testing.T, pdu []byte, err error, code protocol.ErrCode, aux uint8) {
	t.Helper()
	if err != nil {
		t.Fatalf("error responding: %v", err)
	}
	msg, perr := protocol.ParseErrorMessage(pdu)
	if perr != nil {
		t.Fatalf("expected an error PDU, got %x: %v", pdu, perr)
	}
	if msg.Code != code || msg.Param != aux {
		t.Errorf("error PDU is [%s aux=%#02x], expected [%s aux=%#02x]", msg.Code, msg.Param, code, aux)
	}
}

func TestRespond(t *testing.T) {
	ctx := context.Background()
	responder := &spdm.Responder{Store: newStore(t)}

	t.Run("challenge routed", func(t *testing.T) {
		sess := newSession(t)
		resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
		req := spdm.ChallengeRequest{Version: sess.Version, Slot: protocol.ExplicitSlot(0)}.Encode()
		n, err := responder.Respond(ctx, sess, req, resp)
		if err != nil {
			t.Fatalf("error responding: %v", err)
		}
		if code := protocol.RequestResponseCode(resp[protocol.CodeOffset]); code != protocol.ChallengeAuthCode {
			t.Errorf("response code is %s, expected %s", code, protocol.ChallengeAuthCode)
		}
		if n != sess.ChallengeAuthLength(protocol.RoleResponder) {
			t.Errorf("wrote %d bytes, expected %d", n, sess.ChallengeAuthLength(protocol.RoleResponder))
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		sess := newSession(t)
		resp := make([]byte, protocol.HeaderSize)
		n, err := responder.Respond(ctx, sess, []byte{byte(sess.Version), 0x84, 0x00, 0x00}, resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrUnsupportedRequest, 0x84)
	})

	t.Run("request too short for a code", func(t *testing.T) {
		sess := newSession(t)
		resp := make([]byte, protocol.HeaderSize)
		n, err := responder.Respond(ctx, sess, []byte{byte(sess.Version)}, resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrInvalidRequest, 0)
	})
}

func TestProcessChallenge(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	responder := &spdm.Responder{Store: store}

	for _, slot := range []protocol.SlotID{
		protocol.ExplicitSlot(0),
		protocol.ExplicitSlot(2),
		protocol.ProvisionedSlot(),
	} {
		t.Run(slot.String(), func(t *testing.T) {
			sess := newSession(t)
			req := spdm.ChallengeRequest{Version: sess.Version, Slot: slot}.Encode()
			resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))

			n, err := responder.ProcessChallenge(ctx, sess, req, resp)
			if err != nil {
				t.Fatalf("error processing challenge: %v", err)
			}
			if n != len(resp) {
				t.Fatalf("wrote %d bytes, expected %d", n, len(resp))
			}

			if got := protocol.Version(resp[protocol.VersionOffset]); got != sess.Version.ResponseVersion() {
				t.Errorf("response version is %s, expected %s", got, sess.Version.ResponseVersion())
			}
			if code := protocol.RequestResponseCode(resp[protocol.CodeOffset]); code != protocol.ChallengeAuthCode {
				t.Errorf("response code is %s, expected %s", code, protocol.ChallengeAuthCode)
			}
			if want := (protocol.AuthAttributes{Slot: slot.Wire()}).Pack(); resp[protocol.Param1Offset] != want {
				t.Errorf("attribute byte is %#02x, expected %#02x", resp[protocol.Param1Offset], want)
			}
			wantMask := byte(0)
			if index, ok := slot.Explicit(); ok {
				wantMask = 1 << index
			}
			if resp[protocol.Param2Offset] != wantMask {
				t.Errorf("slot mask is %#02x, expected %#02x", resp[protocol.Param2Offset], wantMask)
			}

			wantHash, err := store.CertChainHash(ctx, slot.Resolve(sess.ProvisionedSlot), sess.Algorithms.Hash)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(resp[protocol.HeaderSize:protocol.HeaderSize+len(wantHash)], wantHash) {
				t.Error("chain digest does not match the challenged slot")
			}

			// Full verification from the requester's point of view.
			verifySess := newSession(t)
			if err := verifySess.Transcript(protocol.RoleResponder).Append(req); err != nil {
				t.Fatal(err)
			}
			auth, err := spdm.VerifyChallengeAuth(ctx, verifySess, protocol.RoleResponder, store, slot, resp[:n])
			if err != nil {
				t.Fatalf("error verifying challenge auth: %v", err)
			}
			if auth.BasicMutAuth() {
				t.Error("response requested mutual auth")
			}
			if auth.MeasurementSummary != nil {
				t.Error("response carried a measurement summary without one negotiated")
			}
		})
	}
}

func TestProcessChallengeFreshNonces(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	responder := &spdm.Responder{Store: store}
	slot := protocol.ExplicitSlot(0)

	exchange := func(t *testing.T) []byte {
		sess := newSession(t)
		req := spdm.ChallengeRequest{Version: sess.Version, Slot: slot}.Encode()
		resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
		n, err := responder.ProcessChallenge(ctx, sess, req, resp)
		if err != nil {
			t.Fatalf("error processing challenge: %v", err)
		}

		verifySess := newSession(t)
		if err := verifySess.Transcript(protocol.RoleResponder).Append(req); err != nil {
			t.Fatal(err)
		}
		if _, err := spdm.VerifyChallengeAuth(ctx, verifySess, protocol.RoleResponder, store, slot, resp[:n]); err != nil {
			t.Fatalf("error verifying challenge auth: %v", err)
		}
		return resp[:n]
	}

	first, second := exchange(t), exchange(t)
	sess := newSession(t)
	nonceOff := protocol.HeaderSize + sess.Algorithms.Hash.Size()
	sigSize := sess.Algorithms.Asym.SignatureSize()

	if !bytes.Equal(first[:nonceOff], second[:nonceOff]) {
		t.Error("deterministic response prefix changed between exchanges")
	}
	if bytes.Equal(first[nonceOff:nonceOff+protocol.NonceSize], second[nonceOff:nonceOff+protocol.NonceSize]) {
		t.Error("nonce repeated across exchanges")
	}
	if bytes.Equal(first[len(first)-sigSize:], second[len(second)-sigSize:]) {
		t.Error("signature repeated across exchanges")
	}
}

func TestProcessChallengeWithMeasurementSummary(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	meas := memory.Measurements{State: []byte("boot measurement state")}
	responder := &spdm.Responder{Store: store, Measurements: meas}
	slot := protocol.ExplicitSlot(0)
	withSummary := func(cfg *spdm.SessionConfig) { cfg.MeasurementSummary = true }

	sess := newSession(t, withSummary)
	req := spdm.ChallengeRequest{Version: sess.Version, Slot: slot}.Encode()
	resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
	n, err := responder.ProcessChallenge(ctx, sess, req, resp)
	if err != nil {
		t.Fatalf("error processing challenge: %v", err)
	}

	verifySess := newSession(t, withSummary)
	if err := verifySess.Transcript(protocol.RoleResponder).Append(req); err != nil {
		t.Fatal(err)
	}
	auth, err := spdm.VerifyChallengeAuth(ctx, verifySess, protocol.RoleResponder, store, slot, resp[:n])
	if err != nil {
		t.Fatalf("error verifying challenge auth: %v", err)
	}

	want, err := meas.MeasurementSummary(ctx, sess.Algorithms.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(auth.MeasurementSummary, want) {
		t.Errorf("measurement summary is %x, expected %x", auth.MeasurementSummary, want)
	}
}

type failingMeasurements struct{}

func (failingMeasurements) MeasurementSummary(context.Context, protocol.HashAlg) ([]byte, error) {
	return nil, errors.New("measurement collection failed")
}

func TestProcessChallengeRejections(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	responder := &spdm.Responder{Store: store}
	challenge := func(sess *spdm.Session, slot protocol.SlotID) []byte {
		return spdm.ChallengeRequest{Version: sess.Version, Slot: slot}.Encode()
	}

	t.Run("capability not advertised", func(t *testing.T) {
		sess := newSession(t, func(cfg *spdm.SessionConfig) { cfg.LocalCaps &^= protocol.CapChallenge })
		resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
		n, err := responder.ProcessChallenge(ctx, sess, challenge(sess, protocol.ExplicitSlot(0)), resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrUnsupportedRequest, uint8(protocol.ChallengeCode))
		if sess.Transcript(protocol.RoleResponder).Len() != 0 {
			t.Error("rejected request entered the transcript")
		}
	})

	t.Run("truncated request", func(t *testing.T) {
		sess := newSession(t)
		resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
		n, err := responder.ProcessChallenge(ctx, sess, challenge(sess, protocol.ExplicitSlot(0))[:3], resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrInvalidRequest, 0)
		if sess.Transcript(protocol.RoleResponder).Len() != 0 {
			t.Error("rejected request entered the transcript")
		}
	})

	t.Run("oversized request", func(t *testing.T) {
		sess := newSession(t)
		resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
		n, err := responder.ProcessChallenge(ctx, sess, append(challenge(sess, protocol.ExplicitSlot(0)), 0x00), resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrInvalidRequest, 0)
	})

	t.Run("slot out of range", func(t *testing.T) {
		sess := newSession(t)
		resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
		n, err := responder.ProcessChallenge(ctx, sess, challenge(sess, protocol.ExplicitSlot(testSlotCount)), resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrInvalidRequest, 0)
	})

	t.Run("empty slot", func(t *testing.T) {
		sess := newSession(t)
		bare := &spdm.Responder{Store: memory.NewStore()}
		resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
		n, err := bare.ProcessChallenge(ctx, sess, challenge(sess, protocol.ExplicitSlot(0)), resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrUnspecified, 0)
	})

	t.Run("missing signing key", func(t *testing.T) {
		sess := newSession(t)
		keyless := memory.NewStore()
		keyless.AddSlot(0, []byte("certificate chain 0"), nil)
		bare := &spdm.Responder{Store: keyless}
		resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
		n, err := bare.ProcessChallenge(ctx, sess, challenge(sess, protocol.ExplicitSlot(0)), resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrUnsupportedRequest, uint8(protocol.ChallengeAuthCode))
	})

	t.Run("entropy failure", func(t *testing.T) {
		sess := newSession(t)
		noEntropy := &spdm.Responder{Store: store, Rand: iotest.ErrReader(errors.New("entropy exhausted"))}
		resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
		n, err := noEntropy.ProcessChallenge(ctx, sess, challenge(sess, protocol.ExplicitSlot(0)), resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrUnspecified, 0)
	})

	t.Run("measurements unavailable", func(t *testing.T) {
		sess := newSession(t, func(cfg *spdm.SessionConfig) { cfg.MeasurementSummary = true })
		resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
		n, err := responder.ProcessChallenge(ctx, sess, challenge(sess, protocol.ExplicitSlot(0)), resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrUnspecified, 0)
	})

	t.Run("measurement collection failure", func(t *testing.T) {
		sess := newSession(t, func(cfg *spdm.SessionConfig) { cfg.MeasurementSummary = true })
		faulty := &spdm.Responder{Store: store, Measurements: failingMeasurements{}}
		resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
		n, err := faulty.ProcessChallenge(ctx, sess, challenge(sess, protocol.ExplicitSlot(0)), resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrUnspecified, 0)
	})

	t.Run("transcript capacity exhausted", func(t *testing.T) {
		sess := newSession(t, func(cfg *spdm.SessionConfig) { cfg.TranscriptCapacity = 2 })
		resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
		n, err := responder.ProcessChallenge(ctx, sess, challenge(sess, protocol.ExplicitSlot(0)), resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrInvalidRequest, 0)
	})

	t.Run("short response buffer", func(t *testing.T) {
		sess := newSession(t)
		want := sess.ChallengeAuthLength(protocol.RoleResponder)
		short := make([]byte, want-1)
		_, err := responder.ProcessChallenge(ctx, sess, challenge(sess, protocol.ExplicitSlot(0)), short)

		var tooSmall *protocol.BufferTooSmallError
		if !errors.As(err, &tooSmall) {
			t.Fatalf("expected BufferTooSmallError, got %v", err)
		}
		if tooSmall.Required != want {
			t.Errorf("required size is %d, expected %d", tooSmall.Required, want)
		}
		if sess.Transcript(protocol.RoleResponder).Len() != 0 {
			t.Error("short-buffer rejection modified the transcript")
		}
		if !bytes.Equal(short, make([]byte, len(short))) {
			t.Error("short-buffer rejection wrote into the response buffer")
		}
	})
}

type recordingErrors struct {
	code protocol.ErrCode
	aux  uint8
}

func (w *recordingErrors) WriteError(_ context.Context, sess *spdm.Session, code protocol.ErrCode, aux uint8, buf []byte) (int, error) {
	w.code, w.aux = code, aux
	return protocol.ErrorMessage{Version: sess.Version.ResponseVersion(), Code: code, Param: aux}.Encode(buf)
}

func TestCustomErrorWriter(t *testing.T) {
	ctx := context.Background()
	recorder := new(recordingErrors)
	responder := &spdm.Responder{Store: newStore(t), Errors: recorder}

	sess := newSession(t)
	resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
	req := spdm.ChallengeRequest{Version: sess.Version, Slot: protocol.ExplicitSlot(testSlotCount)}.Encode()
	n, err := responder.ProcessChallenge(ctx, sess, req, resp)
	expectErrorPDU(t, resp[:n], err, protocol.ErrInvalidRequest, 0)
	if recorder.code != protocol.ErrInvalidRequest || recorder.aux != 0 {
		t.Errorf("error writer saw [%s aux=%#02x], expected [%s aux=0]", recorder.code, recorder.aux, protocol.ErrInvalidRequest)
	}
}
