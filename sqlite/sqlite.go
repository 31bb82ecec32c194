// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package sqlite implements credential and session persistence with a
// SQLite database.
//
// One database serves both store roles: it is the [spdm.CredentialStore]
// of the endpoint whose slots it holds and, from the other side of an
// exchange, the [spdm.PeerCredentials] describing that endpoint. Sessions
// are persisted as snapshots of their negotiated configuration and
// transcript bytes, keyed by UUID, so an endpoint may resume
// authentication exchanges across restarts.
package sqlite

import (
	"context"
	"crypto"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/spdm-tools/go-spdm"
	"github.com/spdm-tools/go-spdm/protocol"
)

// DB implements slot credential and session persistence.
type DB struct {
	// Log all SQL queries to this optional writer.
	DebugLog io.Writer

	db *sql.DB
}

// New creates a DB. The expected tables must be created before the
// database is used.
func New(db *sql.DB) *DB { return &DB{db: db} }

// Init ensures all tables are created. It does not recognize if tables
// have been created with invalid schemas.
//
// In most cases, Open should be used, which implicitly calls Init.
// However, Init can be useful for alternative SQLite connections that do
// not use a local file, such as Cloudflare D1.
func Init(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS slots
			( slot INTEGER PRIMARY KEY
			, chain BLOB NOT NULL
			, pkcs8 BLOB
			)`,
		`CREATE TABLE IF NOT EXISTS provisioned
			( id INTEGER PRIMARY KEY CHECK (id = 0)
			, slot INTEGER NOT NULL
			)`,
		`CREATE TABLE IF NOT EXISTS sessions
			( id BLOB PRIMARY KEY
			, version INTEGER NOT NULL
			, hash_alg INTEGER NOT NULL
			, asym_alg INTEGER NOT NULL
			, req_asym_alg INTEGER NOT NULL
			, local_caps INTEGER NOT NULL
			, peer_caps INTEGER NOT NULL
			, slot_count INTEGER NOT NULL
			, provisioned_slot INTEGER NOT NULL
			, opaque BLOB
			, measurement_summary INTEGER NOT NULL
			, transcript_cap INTEGER NOT NULL
			, auth_transcript BLOB
			, mutual_transcript BLOB
			)`,
	}
	for _, sql := range stmts {
		if _, err := db.Exec(sql); err != nil {
			_ = db.Close()
			if strings.Contains(err.Error(), "file is not a database") {
				return fmt.Errorf("file is not a database: likely due to incorrect or missing database password")
			}
			return fmt.Errorf("error creating tables: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
//
// If the database connection is associated with unfinalized prepared
// statements, open blob handles, and/or unfinished backup objects, Close
// will leave the database connection open and return [sqlite3.BUSY].
func (db *DB) Close() error { return db.db.Close() }

// DB returns the underlying database/sql DB.
func (db *DB) DB() *sql.DB { return db.db }

type debugLogKey struct{}

func (db *DB) debugCtx(parent context.Context) context.Context {
	return context.WithValue(parent, debugLogKey{}, db.DebugLog)
}

func debug(ctx context.Context, format string, a ...any) {
	w, ok := ctx.Value(debugLogKey{}).(io.Writer)
	if !ok {
		return
	}
	msg := strings.TrimSpace(fmt.Sprintf(format, a...))
	_, _ = fmt.Fprintln(w, msg)
}

// Compile-time check for interface implementation correctness
var _ interface {
	spdm.CredentialStore
	spdm.PeerCredentials
} = (*DB)(nil)

// AddSlot stores the certificate chain and signing key for a slot,
// replacing any previous contents. The key is marshaled to PKCS #8 and may
// be nil for a slot that only carries a chain, such as a peer identity
// known by certificate alone.
func (db *DB) AddSlot(ctx context.Context, slot uint8, chain []byte, key crypto.Signer) error {
	if slot >= protocol.MaxSlots {
		return fmt.Errorf("slot %d out of range [0,%d)", slot, protocol.MaxSlots)
	}
	if len(chain) == 0 {
		return fmt.Errorf("required certificate chain is missing")
	}

	var pkcs8 []byte
	if key != nil {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return fmt.Errorf("error marshaling slot %d key: %w", slot, err)
		}
		pkcs8 = der
	}

	return db.insert(ctx, "slots", map[string]any{
		"slot":  int(slot),
		"chain": chain,
		"pkcs8": pkcs8,
	}, []string{"slot"})
}

// RemoveSlot deletes a slot's chain and key.
func (db *DB) RemoveSlot(ctx context.Context, slot uint8) error {
	return db.remove(ctx, "slots", map[string]any{"slot": int(slot)})
}

// Chain returns the stored certificate chain bytes for a slot.
func (db *DB) Chain(ctx context.Context, slot uint8) ([]byte, error) {
	var chain []byte
	if err := db.query(ctx, "slots", []string{"chain"}, map[string]any{"slot": int(slot)}, &chain); errors.Is(err, spdm.ErrNotFound) {
		return nil, fmt.Errorf("certificate chain for slot %d: %w", slot, err)
	} else if err != nil {
		return nil, err
	}
	return chain, nil
}

// CertChainHash digests the certificate chain in the given slot.
func (db *DB) CertChainHash(ctx context.Context, slot uint8, alg protocol.HashAlg) ([]byte, error) {
	chain, err := db.Chain(ctx, slot)
	if err != nil {
		return nil, err
	}
	h := alg.New()
	_, _ = h.Write(chain)
	return h.Sum(nil), nil
}

// SlotKey returns the signing key stored with the slot's chain.
func (db *DB) SlotKey(ctx context.Context, slot uint8) (crypto.Signer, error) {
	var pkcs8 []byte
	if err := db.query(ctx, "slots", []string{"pkcs8"}, map[string]any{"slot": int(slot)}, &pkcs8); err != nil {
		return nil, err
	}
	if pkcs8 == nil {
		return nil, fmt.Errorf("signing key for slot %d: %w", slot, spdm.ErrNotFound)
	}
	key, err := x509.ParsePKCS8PrivateKey(pkcs8)
	if err != nil {
		return nil, fmt.Errorf("error parsing slot %d key: %w", slot, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("slot %d key of type %T cannot sign", slot, key)
	}
	return signer, nil
}

// SetProvisionedSlot records which slot the provisioned-identity selector
// resolves to.
func (db *DB) SetProvisionedSlot(ctx context.Context, slot uint8) error {
	if slot >= protocol.MaxSlots {
		return fmt.Errorf("slot %d out of range [0,%d)", slot, protocol.MaxSlots)
	}
	return db.insert(ctx, "provisioned", map[string]any{
		"id":   0,
		"slot": int(slot),
	}, []string{"id"})
}

// ProvisionedSlot returns the slot the provisioned-identity selector
// resolves to, defaulting to slot 0 when never set.
func (db *DB) ProvisionedSlot(ctx context.Context) (uint8, error) {
	var slot uint8
	if err := db.query(ctx, "provisioned", []string{"slot"}, map[string]any{"id": 0}, &slot); errors.Is(err, spdm.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return slot, nil
}

// PeerCertChainHash digests the chain the selector resolves to.
func (db *DB) PeerCertChainHash(ctx context.Context, id protocol.SlotID, alg protocol.HashAlg) ([]byte, error) {
	slot, err := db.resolveSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	return db.CertChainHash(ctx, slot, alg)
}

// PeerKey returns the public half of the key the selector resolves to.
func (db *DB) PeerKey(ctx context.Context, id protocol.SlotID) (crypto.PublicKey, error) {
	slot, err := db.resolveSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	key, err := db.SlotKey(ctx, slot)
	if err != nil {
		return nil, err
	}
	return key.Public(), nil
}

func (db *DB) resolveSlot(ctx context.Context, id protocol.SlotID) (uint8, error) {
	if index, ok := id.Explicit(); ok {
		return index, nil
	}
	return db.ProvisionedSlot(ctx)
}

// AddSession persists a snapshot of a session's negotiated configuration
// and transcript bytes under a fresh identifier.
func (db *DB) AddSession(ctx context.Context, sess *spdm.Session) (uuid.UUID, error) {
	id := uuid.New()
	kvs := sessionRow(sess)
	kvs["id"] = id[:]
	if err := db.insert(ctx, "sessions", kvs, nil); err != nil {
		return uuid.UUID{}, fmt.Errorf("error storing session: %w", err)
	}
	return id, nil
}

// UpdateSession replaces the stored transcript snapshot of a session,
// typically after completing another exchange. The negotiated
// configuration is fixed for a session's lifetime and is not rewritten.
func (db *DB) UpdateSession(ctx context.Context, id uuid.UUID, sess *spdm.Session) error {
	return db.update(ctx, "sessions", map[string]any{
		"auth_transcript":   sess.Transcript(protocol.RoleResponder).Bytes(),
		"mutual_transcript": sess.Transcript(protocol.RoleRequester).Bytes(),
	}, map[string]any{"id": id[:]})
}

// Session restores a persisted session. The restored session carries the
// same configuration and transcript bytes as the snapshot, so a signature
// computed over its transcript matches one computed before persistence.
func (db *DB) Session(ctx context.Context, id uuid.UUID) (*spdm.Session, error) {
	var (
		version, hashAlg, asymAlg, reqAsymAlg int64
		localCaps, peerCaps                   int64
		slotCount, provisionedSlot            int64
		opaque                                []byte
		summary                               bool
		transcriptCap                         int64
		authLog, mutualLog                    []byte
	)
	if err := db.query(ctx, "sessions", []string{
		"version", "hash_alg", "asym_alg", "req_asym_alg",
		"local_caps", "peer_caps", "slot_count", "provisioned_slot",
		"opaque", "measurement_summary", "transcript_cap",
		"auth_transcript", "mutual_transcript",
	}, map[string]any{"id": id[:]},
		&version, &hashAlg, &asymAlg, &reqAsymAlg,
		&localCaps, &peerCaps, &slotCount, &provisionedSlot,
		&opaque, &summary, &transcriptCap,
		&authLog, &mutualLog,
	); err != nil {
		return nil, err
	}

	sess, err := spdm.NewSession(spdm.SessionConfig{
		Version: protocol.Version(version),
		Algorithms: protocol.Algorithms{
			Hash:    protocol.HashAlg(hashAlg),
			Asym:    protocol.AsymAlg(asymAlg),
			ReqAsym: protocol.AsymAlg(reqAsymAlg),
		},
		LocalCaps:          protocol.CapabilityFlags(localCaps),
		PeerCaps:           protocol.CapabilityFlags(peerCaps),
		SlotCount:          uint8(slotCount),
		ProvisionedSlot:    uint8(provisionedSlot),
		OpaqueData:         opaque,
		MeasurementSummary: summary,
		TranscriptCapacity: int(transcriptCap),
	})
	if err != nil {
		return nil, fmt.Errorf("error restoring session %s: %w", id, err)
	}
	if err := sess.Transcript(protocol.RoleResponder).Append(authLog); err != nil {
		return nil, fmt.Errorf("error restoring session %s transcript: %w", id, err)
	}
	if err := sess.Transcript(protocol.RoleRequester).Append(mutualLog); err != nil {
		return nil, fmt.Errorf("error restoring session %s transcript: %w", id, err)
	}
	return sess, nil
}

// RemoveSession deletes a persisted session.
func (db *DB) RemoveSession(ctx context.Context, id uuid.UUID) error {
	return db.remove(ctx, "sessions", map[string]any{"id": id[:]})
}

func sessionRow(sess *spdm.Session) map[string]any {
	return map[string]any{
		"version":             int(sess.Version),
		"hash_alg":            int64(sess.Algorithms.Hash),
		"asym_alg":            int64(sess.Algorithms.Asym),
		"req_asym_alg":        int64(sess.Algorithms.ReqAsym),
		"local_caps":          int64(sess.LocalCaps),
		"peer_caps":           int64(sess.PeerCaps),
		"slot_count":          int(sess.SlotCount),
		"provisioned_slot":    int(sess.ProvisionedSlot),
		"opaque":              sess.OpaqueData,
		"measurement_summary": sess.MeasurementSummary,
		"transcript_cap":      sess.TranscriptCapacity,
		"auth_transcript":     sess.Transcript(protocol.RoleResponder).Bytes(),
		"mutual_transcript":   sess.Transcript(protocol.RoleRequester).Bytes(),
	}
}

func (db *DB) insert(ctx context.Context, table string, kvs map[string]any, upsertOnConflict []string) error {
	return insert(db.debugCtx(ctx), db.db, table, kvs, upsertOnConflict)
}

func (db *DB) update(ctx context.Context, table string, kvs, where map[string]any) error {
	return update(db.debugCtx(ctx), db.db, table, kvs, where)
}

func (db *DB) query(ctx context.Context, table string, columns []string, where map[string]any, into ...any) error {
	return query(db.debugCtx(ctx), db.db, table, columns, where, into...)
}

func (db *DB) remove(ctx context.Context, table string, where map[string]any) error {
	return remove(db.debugCtx(ctx), db.db, table, where)
}

// Allows using *sql.DB or *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Allows using *sql.DB or *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insert(ctx context.Context, db execer, table string, kvs map[string]any, upsertOnConflict []string) error {
	columns := slices.Collect(maps.Keys(kvs))
	args := make([]any, len(columns))
	for i, name := range columns {
		args[i] = kvs[name]
	}
	markers := slices.Repeat([]string{"?"}, len(columns))

	var upsert string
	if len(upsertOnConflict) > 0 {
		var updates, whereClauses []string
		for _, key := range columns {
			excluded := fmt.Sprintf("`%s` = excluded.`%s`", key, key)
			if slices.Contains(upsertOnConflict, key) {
				whereClauses = append(whereClauses, excluded)
			} else {
				updates = append(updates, excluded)
			}
		}

		upsert = fmt.Sprintf(" ON CONFLICT(`%s`) DO UPDATE SET ", strings.Join(upsertOnConflict, "`, `"))
		upsert += strings.Join(updates, ", ")
		upsert += " WHERE "
		upsert += strings.Join(whereClauses, " AND ")
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)%s",
		table,
		"`"+strings.Join(columns, "`, `")+"`",
		strings.Join(markers, ", "),
		upsert,
	)
	debug(ctx, "sqlite: %s\n%+v", query, args)
	_, err := db.ExecContext(ctx, query, args...)
	return err
}

func update(ctx context.Context, db execer, table string, kvs, where map[string]any) error {
	setKeys := slices.Collect(maps.Keys(kvs))
	setCmds := make([]string, len(setKeys))
	for i, key := range setKeys {
		setCmds[i] = "`" + key + "` = ?"
	}
	setVals := make([]any, len(setKeys))
	for i, key := range setKeys {
		setVals[i] = kvs[key]
	}

	whereKeys := slices.Collect(maps.Keys(where))
	clauses := make([]string, len(whereKeys))
	for i, key := range whereKeys {
		clauses[i] = "`" + key + "` = ?"
	}
	whereVals := make([]any, len(whereKeys))
	for i, key := range whereKeys {
		whereVals[i] = where[key]
	}

	query := fmt.Sprintf(
		`UPDATE %s SET %s WHERE %s`,
		table,
		strings.Join(setCmds, ", "),
		strings.Join(clauses, " AND "),
	)
	debug(ctx, "sqlite: %s\n%+v", query, kvs)

	_, err := db.ExecContext(ctx, query, append(setVals, whereVals...)...)
	return err
}

func query(ctx context.Context, db querier, table string, columns []string, where map[string]any, into ...any) error {
	if len(columns) != len(into) {
		panic("programming error - query must have the same number of columns and values")
	}

	whereKeys := slices.Collect(maps.Keys(where))
	clauses := make([]string, len(whereKeys))
	for i, key := range whereKeys {
		clauses[i] = "`" + key + "` = ?"
	}
	whereVals := make([]any, len(whereKeys))
	for i, key := range whereKeys {
		whereVals[i] = where[key]
	}

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s`,
		"`"+strings.Join(columns, "`, `")+"`",
		table,
		strings.Join(clauses, " AND "),
	)
	debug(ctx, "sqlite: %s\n%+v", query, where)

	row := db.QueryRowContext(ctx, query, whereVals...)
	if err := row.Scan(into...); errors.Is(err, sql.ErrNoRows) {
		return spdm.ErrNotFound
	} else if err != nil {
		return fmt.Errorf("error querying DB: %w", err)
	}
	return nil
}

func remove(ctx context.Context, db execer, table string, where map[string]any) error {
	whereKeys := slices.Collect(maps.Keys(where))
	clauses := make([]string, len(whereKeys))
	for i, key := range whereKeys {
		clauses[i] = "`" + key + "` = ?"
	}
	whereVals := make([]any, len(whereKeys))
	for i, key := range whereKeys {
		whereVals[i] = where[key]
	}

	query := fmt.Sprintf(
		`DELETE FROM %s WHERE %s`,
		table,
		strings.Join(clauses, " AND "),
	)
	debug(ctx, "sqlite: %s\n%+v", query, whereVals)

	result, err := db.ExecContext(ctx, query, whereVals...)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n < 1 {
		return spdm.ErrNotFound
	}
	return nil
}
