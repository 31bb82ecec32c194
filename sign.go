// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package spdm

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"

	"github.com/spdm-tools/go-spdm/protocol"
)

// digestTranscript hashes the accumulated transcript bytes with the
// negotiated algorithm. Signatures in this exchange always cover the digest
// of the transcript, never the raw bytes.
func digestTranscript(alg protocol.HashAlg, transcript []byte) []byte {
	h := alg.New()
	_, _ = h.Write(transcript)
	return h.Sum(nil)
}

// signTranscript signs a transcript digest and writes the fixed-size wire
// encoding into sig: the modulus-sized block for RSA, or r||s with each
// integer left-padded to the curve byte size for ECDSA.
func signTranscript(rng io.Reader, key crypto.Signer, alg protocol.AsymAlg, hashAlg protocol.HashAlg, digest, sig []byte) error {
	if len(sig) != alg.SignatureSize() {
		return fmt.Errorf("signature buffer is %d bytes, %s requires %d", len(sig), alg, alg.SignatureSize())
	}

	if alg.IsECDSA() {
		return signECDSA(rng, key, hashAlg, digest, sig)
	}

	if _, ok := key.Public().(*rsa.PublicKey); !ok {
		return fmt.Errorf("%s negotiated but slot key is %T", alg, key.Public())
	}
	var opts crypto.SignerOpts = hashAlg.HashFunc()
	if alg.IsRSAPSS() {
		opts = &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       hashAlg.HashFunc(),
		}
	}
	raw, err := key.Sign(rng, digest, opts)
	if err != nil {
		return fmt.Errorf("signing with %s: %w", alg, err)
	}
	if len(raw) != len(sig) {
		return fmt.Errorf("%s signature is %d bytes, expected %d: key size does not match negotiated algorithm", alg, len(raw), len(sig))
	}
	copy(sig, raw)
	return nil
}

// signECDSA signs through the generic [crypto.Signer] interface so that
// hardware-backed keys work the same as software keys, then re-encodes the
// ASN.1 signature into the fixed-size r||s wire form.
func signECDSA(rng io.Reader, key crypto.Signer, hashAlg protocol.HashAlg, digest, sig []byte) error {
	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("ECDSA negotiated but slot key is %T", key.Public())
	}
	n := (pub.Params().N.BitLen() + 7) / 8
	if len(sig) != 2*n {
		return fmt.Errorf("curve %s produces %d byte signatures, expected %d: key curve does not match negotiated algorithm",
			pub.Params().Name, 2*n, len(sig))
	}

	der, err := key.Sign(rng, digest, hashAlg.HashFunc())
	if err != nil {
		return fmt.Errorf("signing with ECDSA: %w", err)
	}
	var parsed struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(der, &parsed); err != nil {
		return fmt.Errorf("parsing ASN.1 signature: %w", err)
	}
	parsed.R.FillBytes(sig[:n])
	parsed.S.FillBytes(sig[n:])
	return nil
}

// verifyTranscript checks a fixed-size wire signature over a transcript
// digest.
func verifyTranscript(key crypto.PublicKey, alg protocol.AsymAlg, hashAlg protocol.HashAlg, digest, sig []byte) error {
	if len(sig) != alg.SignatureSize() {
		return fmt.Errorf("signature is %d bytes, %s requires %d", len(sig), alg, alg.SignatureSize())
	}

	if alg.IsECDSA() {
		pub, ok := key.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("%s negotiated but peer key is %T", alg, key)
		}
		n := (pub.Params().N.BitLen() + 7) / 8
		if len(sig) != 2*n {
			return fmt.Errorf("signature is %d bytes, curve %s requires %d", len(sig), pub.Params().Name, 2*n)
		}
		r := big.NewInt(0).SetBytes(sig[:n])
		s := big.NewInt(0).SetBytes(sig[n:])
		if !ecdsa.Verify(pub, digest, r, s) {
			return fmt.Errorf("ECDSA signature verification failed")
		}
		return nil
	}

	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%s negotiated but peer key is %T", alg, key)
	}
	if alg.IsRSAPSS() {
		// Salt length is recovered from the padding: software signers here
		// use hash-length salts while TPMs pad with the maximum salt the
		// modulus allows.
		opts := &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthAuto,
			Hash:       hashAlg.HashFunc(),
		}
		if err := rsa.VerifyPSS(pub, hashAlg.HashFunc(), digest, sig, opts); err != nil {
			return fmt.Errorf("RSA-PSS signature verification failed: %w", err)
		}
		return nil
	}
	if err := rsa.VerifyPKCS1v15(pub, hashAlg.HashFunc(), digest, sig); err != nil {
		return fmt.Errorf("RSA signature verification failed: %w", err)
	}
	return nil
}
