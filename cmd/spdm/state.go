// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spdm-tools/go-spdm/internal/memory"
	"github.com/spdm-tools/go-spdm/protocol"
)

func parseHashAlg(name string) (protocol.HashAlg, error) {
	switch strings.ToLower(name) {
	case "sha256", "sha-256":
		return protocol.SHA256, nil
	case "sha384", "sha-384":
		return protocol.SHA384, nil
	case "sha512", "sha-512":
		return protocol.SHA512, nil
	case "sha3-256":
		return protocol.SHA3256, nil
	case "sha3-384":
		return protocol.SHA3384, nil
	case "sha3-512":
		return protocol.SHA3512, nil
	}
	return 0, fmt.Errorf("unknown hash algorithm %q", name)
}

func parseAsymAlg(name string) (protocol.AsymAlg, error) {
	switch strings.ToLower(name) {
	case "ecdsa-p256":
		return protocol.ECDSAP256, nil
	case "ecdsa-p384":
		return protocol.ECDSAP384, nil
	case "ecdsa-p521":
		return protocol.ECDSAP521, nil
	case "rsa-2048":
		return protocol.RSASSA2048, nil
	case "rsa-3072":
		return protocol.RSASSA3072, nil
	case "rsa-4096":
		return protocol.RSASSA4096, nil
	case "rsa-pss-2048":
		return protocol.RSAPSS2048, nil
	case "rsa-pss-3072":
		return protocol.RSAPSS3072, nil
	case "rsa-pss-4096":
		return protocol.RSAPSS4096, nil
	}
	return 0, fmt.Errorf("unknown signature algorithm %q", name)
}

func generateKey(alg protocol.AsymAlg) (crypto.Signer, error) {
	switch alg {
	case protocol.ECDSAP256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case protocol.ECDSAP384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case protocol.ECDSAP521:
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case protocol.RSASSA2048, protocol.RSAPSS2048:
		return rsa.GenerateKey(rand.Reader, 2048)
	case protocol.RSASSA3072, protocol.RSAPSS3072:
		return rsa.GenerateKey(rand.Reader, 3072)
	case protocol.RSASSA4096, protocol.RSAPSS4096:
		return rsa.GenerateKey(rand.Reader, 4096)
	}
	return nil, fmt.Errorf("no key generator for algorithm %s", alg)
}

// generateState creates a signing key and self-signed certificate per slot
// and writes them to path as PEM: CERTIFICATE and PRIVATE KEY blocks paired
// by a Slot header.
func generateState(path string, slots uint8, alg protocol.AsymAlg) (*memory.Store, error) {
	store := memory.NewStore()
	var blocks []*pem.Block
	for slot := uint8(0); slot < slots; slot++ {
		key, err := generateKey(alg)
		if err != nil {
			return nil, fmt.Errorf("error generating slot %d key: %w", slot, err)
		}

		template := &x509.Certificate{
			SerialNumber: big.NewInt(int64(slot) + 1),
			Subject:      pkix.Name{CommonName: fmt.Sprintf("spdm responder slot %d", slot)},
			NotBefore:    time.Now(),
			NotAfter:     time.Now().AddDate(30, 0, 0),
			KeyUsage:     x509.KeyUsageDigitalSignature,
		}
		chain, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
		if err != nil {
			return nil, fmt.Errorf("error creating slot %d certificate: %w", slot, err)
		}
		keyDER, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("error encoding slot %d key: %w", slot, err)
		}

		headers := map[string]string{"Slot": strconv.Itoa(int(slot))}
		blocks = append(blocks,
			&pem.Block{Type: "CERTIFICATE", Headers: headers, Bytes: chain},
			&pem.Block{Type: "PRIVATE KEY", Headers: headers, Bytes: keyDER},
		)
		store.AddSlot(slot, chain, key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "spdm_state_*")
	if err != nil {
		return nil, fmt.Errorf("error creating temp file for identity material: %w", err)
	}
	defer func() { _ = tmp.Close() }()
	for _, block := range blocks {
		if err := pem.Encode(tmp, block); err != nil {
			return nil, fmt.Errorf("error writing identity material: %w", err)
		}
	}
	_ = tmp.Close()
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("error renaming temp identity material to %q: %w", path, err)
	}
	return store, nil
}

// loadState reads identity material written by generateState. The requester
// loads the same file as its view of the peer: chains for expected digests
// and keys for their public halves.
func loadState(path string) (*memory.Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	store := memory.NewStore()
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		slot, err := strconv.ParseUint(block.Headers["Slot"], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%s block missing a valid Slot header", block.Type)
		}
		entry := store.Slots[uint8(slot)]

		switch block.Type {
		case "CERTIFICATE":
			entry.Chain = block.Bytes
		case "PRIVATE KEY":
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("error parsing slot %d key: %w", slot, err)
			}
			key, ok := parsed.(crypto.Signer)
			if !ok {
				return nil, fmt.Errorf("slot %d key type %T cannot sign", slot, parsed)
			}
			entry.Key = key
		default:
			return nil, fmt.Errorf("unexpected %s block in %q", block.Type, path)
		}
		store.Slots[uint8(slot)] = entry
	}
	if len(store.Slots) == 0 {
		return nil, fmt.Errorf("no identity material in %q", path)
	}
	return store, nil
}
