// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package protocol

// Version represents an SPDM protocol version as carried in the first byte of
// every message: major version in the high nibble, minor in the low.
type Version uint8

// Supported SPDM protocol versions
const (
	Version10 Version = 0x10 // SPDM 1.0
	Version11 Version = 0x11 // SPDM 1.1
)

func (v Version) String() string {
	switch v {
	case Version10:
		return "1.0"
	case Version11:
		return "1.1"
	default:
		return "unknown"
	}
}

// IsValid reports whether the version is one this library speaks.
func (v Version) IsValid() bool {
	return v == Version10 || v == Version11
}

// ResponseVersion returns the version byte a signed response carries for a
// session negotiated at v: the newest supported revision not exceeding the
// negotiated one, so a 1.1 session answers with 1.1 and anything older
// answers with 1.0.
func (v Version) ResponseVersion() Version {
	if v >= Version11 {
		return Version11
	}
	return Version10
}
