// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package protocol

import (
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"golang.org/x/crypto/sha3"
)

// HashAlg is a negotiated SPDM measurement/base hash algorithm. Values are
// the single-bit selections from the NEGOTIATE_ALGORITHMS BaseHashAlgo field
// (DSP0274), which reuses the TPM_ALG registry bit assignments.
type HashAlg uint32

// Base hash algorithms
const (
	SHA256  HashAlg = 0x00000001
	SHA384  HashAlg = 0x00000002
	SHA512  HashAlg = 0x00000004
	SHA3256 HashAlg = 0x00000008
	SHA3384 HashAlg = 0x00000010
	SHA3512 HashAlg = 0x00000020
)

func (alg HashAlg) String() string {
	switch alg {
	case SHA256:
		return "SHA-256"
	case SHA384:
		return "SHA-384"
	case SHA512:
		return "SHA-512"
	case SHA3256:
		return "SHA3-256"
	case SHA3384:
		return "SHA3-384"
	case SHA3512:
		return "SHA3-512"
	default:
		return "unknown"
	}
}

// IsValid reports whether alg is exactly one known algorithm bit.
func (alg HashAlg) IsValid() bool {
	switch alg {
	case SHA256, SHA384, SHA512, SHA3256, SHA3384, SHA3512:
		return true
	default:
		return false
	}
}

// Size returns the digest length in bytes, or zero for an unknown algorithm.
func (alg HashAlg) Size() int {
	switch alg {
	case SHA256, SHA3256:
		return 32
	case SHA384, SHA3384:
		return 48
	case SHA512, SHA3512:
		return 64
	default:
		return 0
	}
}

// New returns a fresh hash state for the algorithm.
func (alg HashAlg) New() hash.Hash {
	switch alg {
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	case SHA3256:
		return sha3.New256()
	case SHA3384:
		return sha3.New384()
	case SHA3512:
		return sha3.New512()
	}
	panic("HashAlg missing switch case(s)")
}

// HashFunc implements crypto.SignerOpts, but is mainly intended as a simple
// helper function.
func (alg HashAlg) HashFunc() crypto.Hash {
	switch alg {
	case SHA256:
		return crypto.SHA256
	case SHA384:
		return crypto.SHA384
	case SHA512:
		return crypto.SHA512
	case SHA3256:
		return crypto.SHA3_256
	case SHA3384:
		return crypto.SHA3_384
	case SHA3512:
		return crypto.SHA3_512
	}
	panic("HashAlg missing switch case(s)")
}

// AsymAlg is a negotiated SPDM asymmetric signature algorithm. Values are the
// single-bit selections from the NEGOTIATE_ALGORITHMS BaseAsymAlgo and
// ReqBaseAsymAlg fields (DSP0274).
type AsymAlg uint32

// Asymmetric signature algorithms
const (
	RSASSA2048 AsymAlg = 0x00000001
	RSAPSS2048 AsymAlg = 0x00000002
	RSASSA3072 AsymAlg = 0x00000004
	RSAPSS3072 AsymAlg = 0x00000008
	ECDSAP256  AsymAlg = 0x00000010
	RSASSA4096 AsymAlg = 0x00000020
	RSAPSS4096 AsymAlg = 0x00000040
	ECDSAP384  AsymAlg = 0x00000080
	ECDSAP521  AsymAlg = 0x00000100
)

func (alg AsymAlg) String() string {
	switch alg {
	case RSASSA2048:
		return "RSASSA-2048"
	case RSAPSS2048:
		return "RSAPSS-2048"
	case RSASSA3072:
		return "RSASSA-3072"
	case RSAPSS3072:
		return "RSAPSS-3072"
	case RSASSA4096:
		return "RSASSA-4096"
	case RSAPSS4096:
		return "RSAPSS-4096"
	case ECDSAP256:
		return "ECDSA-P256"
	case ECDSAP384:
		return "ECDSA-P384"
	case ECDSAP521:
		return "ECDSA-P521"
	default:
		return "unknown"
	}
}

// IsValid reports whether alg is exactly one known algorithm bit.
func (alg AsymAlg) IsValid() bool {
	return alg.SignatureSize() != 0
}

// SignatureSize returns the fixed wire size of a signature in bytes: the
// modulus size for RSA and the concatenated r||s size for ECDSA. Zero is
// returned for an unknown algorithm.
func (alg AsymAlg) SignatureSize() int {
	switch alg {
	case RSASSA2048, RSAPSS2048:
		return 256
	case RSASSA3072, RSAPSS3072:
		return 384
	case RSASSA4096, RSAPSS4096:
		return 512
	case ECDSAP256:
		return 64
	case ECDSAP384:
		return 96
	case ECDSAP521:
		return 132
	default:
		return 0
	}
}

// IsRSAPSS reports whether the algorithm uses the RSASSA-PSS scheme rather
// than PKCS#1 v1.5.
func (alg AsymAlg) IsRSAPSS() bool {
	switch alg {
	case RSAPSS2048, RSAPSS3072, RSAPSS4096:
		return true
	default:
		return false
	}
}

// IsECDSA reports whether the algorithm is an ECDSA variant.
func (alg AsymAlg) IsECDSA() bool {
	switch alg {
	case ECDSAP256, ECDSAP384, ECDSAP521:
		return true
	default:
		return false
	}
}

// Algorithms holds the outcome of algorithm negotiation for one session.
// Asym signs responder-issued CHALLENGE_AUTH responses; ReqAsym signs the
// requester's responses to encapsulated challenges during mutual
// authentication.
type Algorithms struct {
	Hash    HashAlg
	Asym    AsymAlg
	ReqAsym AsymAlg
}
