// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/spdm-tools/go-spdm"
	"github.com/spdm-tools/go-spdm/protocol"
)

// Server accepts connections and serves challenge exchanges over them. Each
// connection gets its own session from NewSession, so transcripts never mix
// between peers.
type Server struct {
	// Responder handles the request PDUs.
	Responder *spdm.Responder

	// NewSession builds the session state for one accepted connection.
	NewSession func() (*spdm.Session, error)

	// MaxFrameSize bounds request frames. Defaults to
	// [DefaultMaxFrameSize].
	MaxFrameSize uint32
}

// Serve accepts connections on lis until the listener is closed, handling
// each on its own goroutine. Closing the listener makes Serve return nil.
func (s *Server) Serve(lis net.Listener) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("error accepting connection: %w", err)
		}
		go func() {
			defer func() { _ = conn.Close() }()
			if err := s.serveConn(conn); err != nil && !errors.Is(err, io.EOF) {
				slog.Error("connection failed", "peer", conn.RemoteAddr(), "error", err)
			}
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) error {
	sess, err := s.NewSession()
	if err != nil {
		return fmt.Errorf("error building session: %w", err)
	}
	max := s.MaxFrameSize
	if max == 0 {
		max = DefaultMaxFrameSize
	}

	resp := make([]byte, sess.ChallengeAuthLength(protocol.RoleResponder))
	for {
		req, err := readFrame(conn, max)
		if err != nil {
			return err
		}
		slog.Debug("request received", "peer", conn.RemoteAddr(), "len", len(req))

		n, err := s.Responder.Respond(context.Background(), sess, req, resp)
		if err != nil {
			return fmt.Errorf("error responding: %w", err)
		}
		if err := writeFrame(conn, resp[:n]); err != nil {
			return fmt.Errorf("error sending response: %w", err)
		}
	}
}
