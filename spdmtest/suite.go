// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package spdmtest is used to test challenge-response exchanges at an
// almost end-to-end level (transport is mocked).
package spdmtest

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/spdm-tools/go-spdm"
	"github.com/spdm-tools/go-spdm/internal/memory"
	"github.com/spdm-tools/go-spdm/protocol"
)

// CredentialState is a responder identity store together with the
// requester-side view used to verify it.
type CredentialState interface {
	spdm.CredentialStore
	spdm.PeerCredentials
}

// Config selects the negotiated parameters an exchange suite runs with.
// Zero fields take defaults: version 1.1, SHA-384 hashing, ECDSA P-384
// responder signing, ECDSA P-256 requester signing, and three slots with
// slot 1 provisioned.
type Config struct {
	Version            protocol.Version
	Hash               protocol.HashAlg
	Asym               protocol.AsymAlg
	ReqAsym            protocol.AsymAlg
	SlotCount          uint8
	ProvisionedSlot    uint8
	Opaque             []byte
	MeasurementSummary bool

	// State provides the responder identity. If nil, an in-memory store is
	// used, provisioned with a fresh signing key and chain in each of
	// SlotCount slots. A caller-provided state must already hold a chain
	// and key for every slot the Config names, with ProvisionedSlot as its
	// provisioned identity.
	State CredentialState
}

func (cfg *Config) setDefaults() {
	if cfg.Version == 0 {
		cfg.Version = protocol.Version11
	}
	if cfg.Hash == 0 {
		cfg.Hash = protocol.SHA384
	}
	if cfg.Asym == 0 {
		cfg.Asym = protocol.ECDSAP384
	}
	if cfg.ReqAsym == 0 {
		cfg.ReqAsym = protocol.ECDSAP256
	}
	if cfg.SlotCount == 0 {
		cfg.SlotCount = 3
		cfg.ProvisionedSlot = 1
	}
}

// RunExchangeSuite drives challenge exchanges in both directions over a
// direct in-process transport: each explicit slot, the provisioned
// identity, mutual authentication through an encapsulated challenge, and
// the classified error paths.
func RunExchangeSuite(t *testing.T, cfg Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(TestingLog(t), &slog.HandlerOptions{Level: slog.LevelDebug})))
	cfg.setDefaults()
	ctx := context.Background()

	// Identity material for both endpoints.
	state := cfg.State
	if state == nil {
		store := memory.NewStore()
		store.ProvisionedSlot = cfg.ProvisionedSlot
		for i := uint8(0); i < cfg.SlotCount; i++ {
			store.AddSlot(i, []byte(fmt.Sprintf("responder chain %d", i)), GenerateKey(t, cfg.Asym))
		}
		state = store
	}
	requesterStore := memory.NewStore()
	requesterStore.AddSlot(0, []byte("requester chain 0"), GenerateKey(t, cfg.ReqAsym))

	responder := &spdm.Responder{Store: state}
	if cfg.MeasurementSummary {
		responder.Measurements = memory.Measurements{State: []byte("test measurement state")}
	}

	caps := protocol.CapCert | protocol.CapChallenge | protocol.CapMutAuth | protocol.CapMeasureSig
	base := spdm.SessionConfig{
		Version:            cfg.Version,
		Algorithms:         protocol.Algorithms{Hash: cfg.Hash, Asym: cfg.Asym, ReqAsym: cfg.ReqAsym},
		LocalCaps:          caps,
		PeerCaps:           caps,
		SlotCount:          cfg.SlotCount,
		ProvisionedSlot:    cfg.ProvisionedSlot,
		OpaqueData:         cfg.Opaque,
		MeasurementSummary: cfg.MeasurementSummary,
	}
	newSession := func(t *testing.T, cfg spdm.SessionConfig) *spdm.Session {
		t.Helper()
		sess, err := spdm.NewSession(cfg)
		if err != nil {
			t.Fatalf("error building session: %v", err)
		}
		return sess
	}

	t.Run("Challenge each slot", func(t *testing.T) {
		for i := uint8(0); i < cfg.SlotCount; i++ {
			reqSess, respSess := newSession(t, base), newSession(t, base)
			client := &spdm.Requester{
				Transport: &Transport{T: t, Responder: responder, Session: respSess},
				Peer:      state,
			}

			auth, err := client.Challenge(ctx, reqSess, protocol.ExplicitSlot(i))
			if err != nil {
				t.Fatalf("challenge for slot %d: %v", i, err)
			}
			if auth.BasicMutAuth() {
				t.Error("generated response requested mutual auth")
			}
			if !bytes.Equal(auth.Opaque, cfg.Opaque) {
				t.Errorf("opaque data is %x, expected %x", auth.Opaque, cfg.Opaque)
			}
			if cfg.MeasurementSummary && len(auth.MeasurementSummary) != cfg.Hash.Size() {
				t.Errorf("measurement summary is %d bytes, expected %d", len(auth.MeasurementSummary), cfg.Hash.Size())
			}

			// Both endpoints must have accumulated identical transcripts.
			reqLog := reqSess.Transcript(protocol.RoleResponder).Bytes()
			respLog := respSess.Transcript(protocol.RoleResponder).Bytes()
			if !bytes.Equal(reqLog, respLog) {
				t.Errorf("transcripts diverged:\nrequester %x\nresponder %x", reqLog, respLog)
			}
		}
	})

	t.Run("Challenge provisioned identity", func(t *testing.T) {
		reqSess, respSess := newSession(t, base), newSession(t, base)
		client := &spdm.Requester{
			Transport: &Transport{T: t, Responder: responder, Session: respSess},
			Peer:      state,
		}

		auth, err := client.Challenge(ctx, reqSess, protocol.ProvisionedSlot())
		if err != nil {
			t.Fatalf("challenge for provisioned identity: %v", err)
		}
		if auth.SlotMask != 0 {
			t.Errorf("slot mask is %#02x, expected zero for the provisioned identity", auth.SlotMask)
		}
		want, err := state.CertChainHash(ctx, cfg.ProvisionedSlot, cfg.Hash)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(auth.CertChainHash, want) {
			t.Errorf("chain digest does not match provisioned slot %d", cfg.ProvisionedSlot)
		}
	})

	t.Run("Mutual authentication", func(t *testing.T) {
		reqSess, respSess := newSession(t, base), newSession(t, base)
		client := &spdm.Requester{
			Transport: &Transport{T: t, Responder: responder, Session: respSess},
			Peer:      state,
			Store:     requesterStore,
		}

		if _, err := client.Challenge(ctx, reqSess, protocol.ExplicitSlot(0)); err != nil {
			t.Fatalf("challenge: %v", err)
		}

		// Role reversal: the responder challenges the requester inside the
		// established session.
		encapReq := spdm.ChallengeRequest{Version: cfg.Version, Slot: protocol.ExplicitSlot(0)}.Encode()
		respBuf := make([]byte, reqSess.ChallengeAuthLength(protocol.RoleRequester))
		n, err := client.RespondEncapChallenge(ctx, reqSess, encapReq, respBuf)
		if err != nil {
			t.Fatalf("responding to encapsulated challenge: %v", err)
		}
		encapResp := respBuf[:n]
		if protocol.RequestResponseCode(encapResp[protocol.CodeOffset]) != protocol.ChallengeAuthCode {
			t.Fatalf("encapsulated challenge rejected: %x", encapResp)
		}

		if err := respSess.Transcript(protocol.RoleRequester).Append(encapReq); err != nil {
			t.Fatal(err)
		}
		auth, err := spdm.VerifyChallengeAuth(ctx, respSess, protocol.RoleRequester, requesterStore, protocol.ExplicitSlot(0), encapResp)
		if err != nil {
			t.Fatalf("verifying encapsulated challenge auth: %v", err)
		}
		if cfg.MeasurementSummary && auth.MeasurementSummary != nil {
			t.Error("encapsulated response carried a measurement summary")
		}

		// The encapsulated exchange lives in the mutual-auth transcript on
		// both sides; the main transcripts already matched after Challenge.
		reqLog := reqSess.Transcript(protocol.RoleRequester).Bytes()
		respLog := respSess.Transcript(protocol.RoleRequester).Bytes()
		if !bytes.Equal(reqLog, respLog) {
			t.Errorf("mutual-auth transcripts diverged:\nrequester %x\nresponder %x", reqLog, respLog)
		}
	})

	t.Run("Unknown request code", func(t *testing.T) {
		respSess := newSession(t, base)
		resp := make([]byte, respSess.ChallengeAuthLength(protocol.RoleResponder))
		n, err := responder.Respond(ctx, respSess, []byte{byte(cfg.Version), 0x84, 0x00, 0x00}, resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrUnsupportedRequest, 0x84)
	})

	t.Run("Challenge capability unset", func(t *testing.T) {
		noChal := base
		noChal.LocalCaps &^= protocol.CapChallenge
		respSess := newSession(t, noChal)

		resp := make([]byte, respSess.ChallengeAuthLength(protocol.RoleResponder))
		req := spdm.ChallengeRequest{Version: cfg.Version, Slot: protocol.ExplicitSlot(0)}.Encode()
		n, err := responder.ProcessChallenge(ctx, respSess, req, resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrUnsupportedRequest, uint8(protocol.ChallengeCode))
	})

	t.Run("Truncated request", func(t *testing.T) {
		respSess := newSession(t, base)
		resp := make([]byte, respSess.ChallengeAuthLength(protocol.RoleResponder))
		req := spdm.ChallengeRequest{Version: cfg.Version, Slot: protocol.ExplicitSlot(0)}.Encode()
		n, err := responder.ProcessChallenge(ctx, respSess, req[:len(req)-1], resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrInvalidRequest, 0)
		if respSess.Transcript(protocol.RoleResponder).Len() != 0 {
			t.Error("rejected request entered the transcript")
		}
	})

	t.Run("Slot out of range", func(t *testing.T) {
		respSess := newSession(t, base)
		resp := make([]byte, respSess.ChallengeAuthLength(protocol.RoleResponder))
		req := spdm.ChallengeRequest{Version: cfg.Version, Slot: protocol.ExplicitSlot(cfg.SlotCount)}.Encode()
		n, err := responder.ProcessChallenge(ctx, respSess, req, resp)
		expectErrorPDU(t, resp[:n], err, protocol.ErrInvalidRequest, 0)
	})

	t.Run("Buffer too small", func(t *testing.T) {
		respSess := newSession(t, base)
		req := spdm.ChallengeRequest{Version: cfg.Version, Slot: protocol.ExplicitSlot(0)}.Encode()
		short := make([]byte, respSess.ChallengeAuthLength(protocol.RoleResponder)-1)
		_, err := responder.ProcessChallenge(ctx, respSess, req, short)

		var tooSmall *protocol.BufferTooSmallError
		if !errors.As(err, &tooSmall) {
			t.Fatalf("expected BufferTooSmallError, got %v", err)
		}
		if tooSmall.Required != respSess.ChallengeAuthLength(protocol.RoleResponder) {
			t.Errorf("required size is %d, expected %d", tooSmall.Required, respSess.ChallengeAuthLength(protocol.RoleResponder))
		}
		if respSess.Transcript(protocol.RoleResponder).Len() != 0 {
			t.Error("short-buffer rejection modified the transcript")
		}
	})
}

// GenerateKey creates a signing key matching the negotiated algorithm.
func GenerateKey(t *testing.T, alg protocol.AsymAlg) crypto.Signer {
	t.Helper()
	var key crypto.Signer
	var err error
	switch alg {
	case protocol.ECDSAP256:
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case protocol.ECDSAP384:
		key, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case protocol.ECDSAP521:
		key, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case protocol.RSASSA2048, protocol.RSAPSS2048:
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	case protocol.RSASSA3072, protocol.RSAPSS3072:
		key, err = rsa.GenerateKey(rand.Reader, 3072)
	case protocol.RSASSA4096, protocol.RSAPSS4096:
		key, err = rsa.GenerateKey(rand.Reader, 4096)
	default:
		t.Fatalf("no key generator for algorithm %s", alg)
	}
	if err != nil {
		t.Fatalf("error generating %s key: %v", alg, err)
	}
	return key
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
