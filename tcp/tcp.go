// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package tcp implements PDU exchange over plain TCP streams. Transport
// bindings like MCTP and PCIe DOE frame messages at lower layers; on a byte
// stream each PDU instead travels as one frame of a 4-byte big-endian length
// followed by the PDU bytes.
package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds received frames when a transport or server does
// not configure its own limit.
const DefaultMaxFrameSize = 65535

const frameHeaderSize = 4

func writeFrame(w io.Writer, pdu []byte) error {
	frame := make([]byte, frameHeaderSize+len(pdu))
	binary.BigEndian.PutUint32(frame, uint32(len(pdu)))
	copy(frame[frameHeaderSize:], pdu)
	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader, max uint32) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size == 0 {
		return nil, errors.New("zero-length frame")
	}
	if size > max {
		return nil, fmt.Errorf("frame of %d bytes exceeds the %d byte limit", size, max)
	}
	pdu := make([]byte, size)
	if _, err := io.ReadFull(r, pdu); err != nil {
		return nil, fmt.Errorf("frame truncated: %w", err)
	}
	return pdu, nil
}
