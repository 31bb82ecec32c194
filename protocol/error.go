// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package protocol

import "fmt"

// ErrCode is the 1-byte error code carried in param1 of an ERROR message.
type ErrCode uint8

// Error codes
const (
	// The request message or one of its fields is malformed: wrong size,
	// out-of-range slot, or state the responder cannot reconcile. The request
	// must not be retried unchanged.
	ErrInvalidRequest ErrCode = 0x01

	// The responder is temporarily unable to process the request. The
	// requester may retry later. Not produced by the challenge engine; listed
	// because peers may send it.
	ErrBusy ErrCode = 0x03

	// The request arrived out of sequence for the responder's current state.
	ErrUnexpectedRequest ErrCode = 0x04

	// An unclassifiable internal failure.
	ErrUnspecified ErrCode = 0x05

	// The request code is recognized but the exchange is not supported:
	// either the capability was never advertised, or the responder cannot
	// complete it (for example, no signing key for the selected identity).
	// Param2 carries the code of the message that could not be processed.
	ErrUnsupportedRequest ErrCode = 0x07

	// The requested or negotiated protocol version is not supported.
	ErrVersionMismatch ErrCode = 0x41
)

func (c ErrCode) String() string {
	switch c {
	case ErrInvalidRequest:
		return "InvalidRequest"
	case ErrBusy:
		return "Busy"
	case ErrUnexpectedRequest:
		return "UnexpectedRequest"
	case ErrUnspecified:
		return "Unspecified"
	case ErrUnsupportedRequest:
		return "UnsupportedRequest"
	case ErrVersionMismatch:
		return "VersionMismatch"
	default:
		return fmt.Sprintf("ErrCode(0x%02x)", uint8(c))
	}
}

// ErrorMessage is the SPDM ERROR response. It replaces the success response
// whenever processing cannot continue, and shares the standard 4-byte header:
// param1 is the error code and param2 an optional code-specific value (for
// UnsupportedRequest, the offending request code). The error codes used by
// the challenge exchange carry no extended payload.
type ErrorMessage struct {
	Version Version
	Code    ErrCode
	Param   uint8
}

// Len returns the encoded size of the message.
func (e ErrorMessage) Len() int { return HeaderSize }

// Encode writes the ERROR message into buf and returns the number of bytes
// written.
func (e ErrorMessage) Encode(buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, &BufferTooSmallError{Required: HeaderSize}
	}
	buf[VersionOffset] = byte(e.Version)
	buf[CodeOffset] = byte(ErrorMsgCode)
	buf[Param1Offset] = byte(e.Code)
	buf[Param2Offset] = e.Param
	return HeaderSize, nil
}

// ParseErrorMessage decodes an ERROR message. The message must be exactly the
// 4-byte header since no extended error data is defined for the codes this
// library exchanges.
func ParseErrorMessage(data []byte) (*ErrorMessage, error) {
	if len(data) != HeaderSize {
		return nil, fmt.Errorf("ERROR message must be %d bytes, got %d", HeaderSize, len(data))
	}
	if RequestResponseCode(data[CodeOffset]) != ErrorMsgCode {
		return nil, fmt.Errorf("not an ERROR message: code 0x%02x", data[CodeOffset])
	}
	return &ErrorMessage{
		Version: Version(data[VersionOffset]),
		Code:    ErrCode(data[Param1Offset]),
		Param:   data[Param2Offset],
	}, nil
}

// String implements Stringer.
func (e ErrorMessage) String() string {
	return fmt.Sprintf("spdm %s error [code=0x%02x,data=0x%02x]", e.Code, uint8(e.Code), e.Param)
}

// Error implements the standard error interface so that a peer's ERROR
// response can propagate as a Go error.
func (e ErrorMessage) Error() string { return e.String() }

// BufferTooSmallError reports that a caller-supplied output buffer cannot
// hold the message that would be written into it. Required is the exact
// length the caller must provide.
type BufferTooSmallError struct {
	Required int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("output buffer too small: %d bytes required", e.Required)
}
