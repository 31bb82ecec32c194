// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package tpm

import (
	"crypto"
	"crypto/ecdsa"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"

	"github.com/google/go-tpm/tpm2"

	"github.com/spdm-tools/go-spdm/protocol"
)

// Key is a slot signing key resident in a TPM. It implements
// [crypto.Signer], so a credential store may hand it to the challenge
// engine like any software key: ECDSA signatures are returned ASN.1
// DER-encoded and RSA signatures as the raw modulus-sized block, matching
// the encodings of the crypto/ecdsa and crypto/rsa signers.
//
// The signing scheme, including its hash algorithm, is fixed when the key
// is created. A Key must be closed to release its TPM handle.
type Key struct {
	device TPM
	handle *tpm2.NamedHandle
	alg    protocol.AsymAlg
	pub    crypto.PublicKey
}

var _ crypto.Signer = (*Key)(nil)

// GenerateKey creates a signing key for the negotiated algorithm pair under
// the endorsement hierarchy. Primary keys are derived from the TPM seed, so
// generating with the same algorithms always yields the same key on the
// same TPM.
//
// The TPM 2.0 signing schemes cover the SHA2 family only; a session
// negotiated onto SHA3 cannot sign with a TPM-resident key.
func GenerateKey(t TPM, asym protocol.AsymAlg, hash protocol.HashAlg) (*Key, error) {
	template, err := keyTemplate(asym, hash)
	if err != nil {
		return nil, err
	}
	resp, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.TPMRHEndorsement,
		InPublic:      tpm2.New2B(template),
	}.Execute(t)
	if err != nil {
		return nil, fmt.Errorf("unable to create primary key: %w", err)
	}

	pub, err := parsePublic(resp.OutPublic)
	if err != nil {
		_, _ = tpm2.FlushContext{FlushHandle: resp.ObjectHandle}.Execute(t)
		return nil, err
	}
	return &Key{
		device: t,
		handle: &tpm2.NamedHandle{Handle: resp.ObjectHandle, Name: resp.Name},
		alg:    asym,
		pub:    pub,
	}, nil
}

// Public returns the public half of the key.
func (k *Key) Public() crypto.PublicKey { return k.pub }

// Sign signs digest with the TPM-resident private key. The scheme was fixed
// at key creation; opts is only checked against the digest length.
func (k *Key) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if k.handle == nil {
		return nil, fmt.Errorf("key is closed")
	}
	if opts != nil && opts.HashFunc() != 0 && len(digest) != opts.HashFunc().Size() {
		return nil, fmt.Errorf("digest is %d bytes, %s requires %d", len(digest), opts.HashFunc(), opts.HashFunc().Size())
	}

	resp, err := tpm2.Sign{
		KeyHandle: *k.handle,
		Digest:    tpm2.TPM2BDigest{Buffer: digest},
		Validation: tpm2.TPMTTKHashCheck{
			Tag: tpm2.TPMSTHashCheck,
		},
	}.Execute(k.device)
	if err != nil {
		return nil, fmt.Errorf("unable to sign digest: %w", err)
	}

	switch {
	case k.alg.IsECDSA():
		sigData, err := resp.Signature.Signature.ECDSA()
		if err != nil {
			return nil, fmt.Errorf("unable to extract signature data: %w", err)
		}
		return asn1.Marshal(struct{ R, S *big.Int }{
			R: new(big.Int).SetBytes(sigData.SignatureR.Buffer),
			S: new(big.Int).SetBytes(sigData.SignatureS.Buffer),
		})
	case k.alg.IsRSAPSS():
		sigData, err := resp.Signature.Signature.RSAPSS()
		if err != nil {
			return nil, fmt.Errorf("unable to extract signature data: %w", err)
		}
		return sigData.Sig.Buffer, nil
	default:
		sigData, err := resp.Signature.Signature.RSASSA()
		if err != nil {
			return nil, fmt.Errorf("unable to extract signature data: %w", err)
		}
		return sigData.Sig.Buffer, nil
	}
}

// Close flushes the key's TPM handle. The key cannot sign afterward.
func (k *Key) Close() error {
	if k.handle == nil {
		return nil
	}
	if _, err := (tpm2.FlushContext{FlushHandle: k.handle.Handle}).Execute(k.device); err != nil {
		return fmt.Errorf("unable to flush key handle: %w", err)
	}
	k.handle = nil
	return nil
}

func keyTemplate(asym protocol.AsymAlg, hash protocol.HashAlg) (tpm2.TPMTPublic, error) {
	hashAlg, err := tpmHashAlg(hash)
	if err != nil {
		return tpm2.TPMTPublic{}, err
	}
	attrs := tpm2.TPMAObject{
		FixedTPM:            true, // Key can never be duplicated
		FixedParent:         true, // Key can never be changed to a new parent
		SensitiveDataOrigin: true,
		UserWithAuth:        true,
		SignEncrypt:         true,
	}

	if asym.IsECDSA() {
		curve, err := tpmCurve(asym)
		if err != nil {
			return tpm2.TPMTPublic{}, err
		}
		return tpm2.TPMTPublic{
			Type:             tpm2.TPMAlgECC,
			NameAlg:          tpm2.TPMAlgSHA256,
			ObjectAttributes: attrs,
			Parameters: tpm2.NewTPMUPublicParms(tpm2.TPMAlgECC,
				&tpm2.TPMSECCParms{
					Scheme: tpm2.TPMTECCScheme{
						Scheme: tpm2.TPMAlgECDSA,
						Details: tpm2.NewTPMUAsymScheme(tpm2.TPMAlgECDSA,
							&tpm2.TPMSSigSchemeECDSA{HashAlg: hashAlg}),
					},
					CurveID: curve,
				},
			),
		}, nil
	}

	scheme := tpm2.TPMTRSAScheme{
		Scheme: tpm2.TPMAlgRSASSA,
		Details: tpm2.NewTPMUAsymScheme(tpm2.TPMAlgRSASSA,
			&tpm2.TPMSSigSchemeRSASSA{HashAlg: hashAlg}),
	}
	if asym.IsRSAPSS() {
		scheme = tpm2.TPMTRSAScheme{
			Scheme: tpm2.TPMAlgRSAPSS,
			Details: tpm2.NewTPMUAsymScheme(tpm2.TPMAlgRSAPSS,
				&tpm2.TPMSSigSchemeRSAPSS{HashAlg: hashAlg}),
		}
	}
	return tpm2.TPMTPublic{
		Type:             tpm2.TPMAlgRSA,
		NameAlg:          tpm2.TPMAlgSHA256,
		ObjectAttributes: attrs,
		Parameters: tpm2.NewTPMUPublicParms(tpm2.TPMAlgRSA,
			&tpm2.TPMSRSAParms{
				Scheme:  scheme,
				KeyBits: tpm2.TPMKeyBits(asym.SignatureSize() * 8),
			},
		),
	}, nil
}

func tpmHashAlg(alg protocol.HashAlg) (tpm2.TPMIAlgHash, error) {
	switch alg {
	case protocol.SHA256:
		return tpm2.TPMAlgSHA256, nil
	case protocol.SHA384:
		return tpm2.TPMAlgSHA384, nil
	case protocol.SHA512:
		return tpm2.TPMAlgSHA512, nil
	default:
		return 0, fmt.Errorf("hash algorithm %s is not supported by TPM 2.0 signing schemes", alg)
	}
}

func tpmCurve(alg protocol.AsymAlg) (tpm2.TPMECCCurve, error) {
	switch alg {
	case protocol.ECDSAP256:
		return tpm2.TPMECCNistP256, nil
	case protocol.ECDSAP384:
		return tpm2.TPMECCNistP384, nil
	case protocol.ECDSAP521:
		return tpm2.TPMECCNistP521, nil
	default:
		return 0, fmt.Errorf("no TPM curve for algorithm %s", alg)
	}
}

func parsePublic(outPublic tpm2.TPM2BPublic) (crypto.PublicKey, error) {
	data, err := outPublic.Contents()
	if err != nil {
		return nil, fmt.Errorf("unmarshaling public data: %w", err)
	}

	switch data.Type {
	case tpm2.TPMAlgRSA:
		rsaDetail, err := data.Parameters.RSADetail()
		if err != nil {
			return nil, fmt.Errorf("RSA params: %w", err)
		}
		rsaUnique, err := data.Unique.RSA()
		if err != nil {
			return nil, fmt.Errorf("RSA pubkey: %w", err)
		}
		pub, err := tpm2.RSAPub(rsaDetail, rsaUnique)
		if err != nil {
			return nil, fmt.Errorf("marshaling rsa.PublicKey: %w", err)
		}
		return pub, nil

	case tpm2.TPMAlgECC:
		eccDetail, err := data.Parameters.ECCDetail()
		if err != nil {
			return nil, fmt.Errorf("ECC params: %w", err)
		}
		curve, err := eccDetail.CurveID.Curve()
		if err != nil {
			return nil, fmt.Errorf("ECC curve: %w", err)
		}
		eccUnique, err := data.Unique.ECC()
		if err != nil {
			return nil, fmt.Errorf("ECC pubkey: %w", err)
		}
		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(eccUnique.X.Buffer),
			Y:     new(big.Int).SetBytes(eccUnique.Y.Buffer),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported key type %v", data.Type)
	}
}
