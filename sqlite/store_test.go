// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package sqlite_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spdm-tools/go-spdm"
	"github.com/spdm-tools/go-spdm/protocol"
	"github.com/spdm-tools/go-spdm/spdmtest"
	"github.com/spdm-tools/go-spdm/sqlite"
)

func TestSlotStore(t *testing.T) {
	state, cleanup := newDB(t)
	defer func() { _ = cleanup() }()
	ctx := context.Background()

	t.Run("chain digest", func(t *testing.T) {
		h := protocol.SHA384.New()
		_, _ = h.Write([]byte("responder chain 0"))
		want := h.Sum(nil)

		got, err := state.CertChainHash(ctx, 0, protocol.SHA384)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("key round trip", func(t *testing.T) {
		signer, err := state.SlotKey(ctx, 0)
		require.NoError(t, err)

		pub, err := state.PeerKey(ctx, protocol.ExplicitSlot(0))
		require.NoError(t, err)
		assert.Equal(t, signer.Public(), pub)
	})

	t.Run("unknown slot", func(t *testing.T) {
		_, err := state.Chain(ctx, 7)
		assert.ErrorIs(t, err, spdm.ErrNotFound)

		_, err = state.SlotKey(ctx, 7)
		assert.ErrorIs(t, err, spdm.ErrNotFound)

		_, err = state.PeerCertChainHash(ctx, protocol.ExplicitSlot(7), protocol.SHA384)
		assert.ErrorIs(t, err, spdm.ErrNotFound)
	})

	t.Run("chain-only slot", func(t *testing.T) {
		require.NoError(t, state.AddSlot(ctx, 6, []byte("verify-only chain"), nil))

		chain, err := state.Chain(ctx, 6)
		require.NoError(t, err)
		assert.Equal(t, []byte("verify-only chain"), chain)

		_, err = state.SlotKey(ctx, 6)
		assert.ErrorIs(t, err, spdm.ErrNotFound)

		_, err = state.PeerKey(ctx, protocol.ExplicitSlot(6))
		assert.ErrorIs(t, err, spdm.ErrNotFound)
	})

	t.Run("replace slot", func(t *testing.T) {
		require.NoError(t, state.AddSlot(ctx, 5, []byte("old chain"), spdmtest.GenerateKey(t, protocol.ECDSAP256)))

		key := spdmtest.GenerateKey(t, protocol.ECDSAP256)
		require.NoError(t, state.AddSlot(ctx, 5, []byte("new chain"), key))

		chain, err := state.Chain(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, []byte("new chain"), chain)

		signer, err := state.SlotKey(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, key.Public(), signer.Public())
	})

	t.Run("slot out of range", func(t *testing.T) {
		assert.Error(t, state.AddSlot(ctx, protocol.MaxSlots, []byte("chain"), nil))
		assert.Error(t, state.SetProvisionedSlot(ctx, protocol.MaxSlots))
	})

	t.Run("provisioned selector", func(t *testing.T) {
		require.NoError(t, state.SetProvisionedSlot(ctx, 2))

		slot, err := state.ProvisionedSlot(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint8(2), slot)

		want, err := state.CertChainHash(ctx, 2, protocol.SHA384)
		require.NoError(t, err)
		got, err := state.PeerCertChainHash(ctx, protocol.ProvisionedSlot(), protocol.SHA384)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("remove slot", func(t *testing.T) {
		require.NoError(t, state.RemoveSlot(ctx, 5))

		_, err := state.Chain(ctx, 5)
		assert.ErrorIs(t, err, spdm.ErrNotFound)
		assert.ErrorIs(t, state.RemoveSlot(ctx, 5), spdm.ErrNotFound)
	})
}

func TestProvisionedSlotDefault(t *testing.T) {
	cleanup := func() error { return os.Remove("db.test") }
	_ = cleanup()
	defer func() { _ = cleanup() }()

	state, err := sqlite.Open("db.test", "")
	require.NoError(t, err)
	defer func() { _ = state.Close() }()

	slot, err := state.ProvisionedSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(0), slot)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	cleanup := func() error { return os.Remove("db.test") }
	_ = cleanup()
	defer func() { _ = cleanup() }()
	ctx := context.Background()

	state, err := sqlite.Open("db.test", "test_password")
	require.NoError(t, err)
	key := spdmtest.GenerateKey(t, protocol.ECDSAP256)
	require.NoError(t, state.AddSlot(ctx, 0, []byte("persistent chain"), key))
	require.NoError(t, state.SetProvisionedSlot(ctx, 0))
	want, err := state.CertChainHash(ctx, 0, protocol.SHA256)
	require.NoError(t, err)
	require.NoError(t, state.Close())

	state, err = sqlite.Open("db.test", "test_password")
	require.NoError(t, err)
	defer func() { _ = state.Close() }()

	got, err := state.CertChainHash(ctx, 0, protocol.SHA256)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	slot, err := state.ProvisionedSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), slot)

	signer, err := state.SlotKey(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, key.Public(), signer.Public())
}

func TestOpenWrongPassword(t *testing.T) {
	cleanup := func() error { return os.Remove("db.test") }
	_ = cleanup()
	defer func() { _ = cleanup() }()

	state, err := sqlite.Open("db.test", "test_password")
	require.NoError(t, err)
	require.NoError(t, state.Close())

	_, err = sqlite.Open("db.test", "wrong_password")
	assert.ErrorContains(t, err, "file is not a database")
}

func TestSessionPersistence(t *testing.T) {
	state, cleanup := newDB(t)
	defer func() { _ = cleanup() }()
	ctx := context.Background()

	newSession := func(t *testing.T) *spdm.Session {
		sess, err := spdm.NewSession(spdm.SessionConfig{
			Version:         protocol.Version11,
			Algorithms:      protocol.Algorithms{Hash: protocol.SHA384, Asym: protocol.ECDSAP384, ReqAsym: protocol.ECDSAP256},
			LocalCaps:       protocol.CapCert | protocol.CapChallenge,
			PeerCaps:        protocol.CapCert | protocol.CapChallenge,
			SlotCount:       3,
			ProvisionedSlot: 1,
			OpaqueData:      []byte("persisted opaque"),
		})
		require.NoError(t, err)
		return sess
	}

	// Run an exchange so both sessions hold non-empty transcripts.
	responder := &spdm.Responder{Store: state}
	reqSess, respSess := newSession(t), newSession(t)
	client := &spdm.Requester{
		Transport: &spdmtest.Transport{T: t, Responder: responder, Session: respSess},
		Peer:      state,
	}
	_, err := client.Challenge(ctx, reqSess, protocol.ExplicitSlot(0))
	require.NoError(t, err)

	respID, err := state.AddSession(ctx, respSess)
	require.NoError(t, err)
	reqID, err := state.AddSession(ctx, reqSess)
	require.NoError(t, err)

	respRestored, err := state.Session(ctx, respID)
	require.NoError(t, err)
	assert.Equal(t, respSess.SessionConfig, respRestored.SessionConfig)
	assert.Equal(t,
		respSess.Transcript(protocol.RoleResponder).Bytes(),
		respRestored.Transcript(protocol.RoleResponder).Bytes())

	reqRestored, err := state.Session(ctx, reqID)
	require.NoError(t, err)

	// The next exchange signs over all prior transcript bytes, so it only
	// verifies if both snapshots were byte-faithful.
	client = &spdm.Requester{
		Transport: &spdmtest.Transport{T: t, Responder: responder, Session: respRestored},
		Peer:      state,
	}
	_, err = client.Challenge(ctx, reqRestored, protocol.ExplicitSlot(1))
	require.NoError(t, err)

	require.NoError(t, state.UpdateSession(ctx, respID, respRestored))
	again, err := state.Session(ctx, respID)
	require.NoError(t, err)
	assert.Equal(t,
		respRestored.Transcript(protocol.RoleResponder).Bytes(),
		again.Transcript(protocol.RoleResponder).Bytes())

	require.NoError(t, state.RemoveSession(ctx, respID))
	_, err = state.Session(ctx, respID)
	assert.ErrorIs(t, err, spdm.ErrNotFound)
	assert.ErrorIs(t, state.RemoveSession(ctx, respID), spdm.ErrNotFound)

	_, err = state.Session(ctx, uuid.New())
	assert.ErrorIs(t, err, spdm.ErrNotFound)
}
