// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// spdm implements requester and responder modes for challenge-response
// authentication over TCP.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var flags = flag.NewFlagSet("root", flag.ContinueOnError)

// Options shared by both modes. Negotiation happens out of band: both ends
// must be started with the same algorithm and measurement settings.
var (
	debug           bool
	statePath       string
	hashName        string
	asymName        string
	measurements    bool
	provisionedSlot uint
)

func registerCommonFlags(fs *flag.FlagSet) {
	fs.BoolVar(&debug, "debug", false, "Log protocol exchanges")
	fs.StringVar(&statePath, "state", "spdm_state.pem", "File `path` of the responder identity material")
	fs.StringVar(&hashName, "hash", "sha384", "Negotiated hash `alg`orithm")
	fs.StringVar(&asymName, "asym", "ecdsa-p384", "Negotiated signature `alg`orithm")
	fs.BoolVar(&measurements, "measurements", false, "Carry a measurement summary in responses")
	fs.UintVar(&provisionedSlot, "provisioned-slot", 0, "Slot `index` of the provisioned identity")
}

func usage() {
	fmt.Fprintf(os.Stderr, `
Usage:
  spdm [requester|responder] [--] [options]

Requester options:
%s
Responder options:
%s`, options(requesterFlags), options(responderFlags))
}

func options(flags *flag.FlagSet) string {
	var nameSize int
	flags.VisitAll(func(f *flag.Flag) {
		if len(f.Name) > nameSize {
			nameSize = len(f.Name)
		}
	})
	if nameSize < 4 {
		nameSize = 4
	}
	nameSize++

	var out string
	flags.VisitAll(func(f *flag.Flag) {
		out += fmt.Sprintf("  -%s%s%s\n", f.Name, strings.Repeat(" ", nameSize-len(f.Name)), f.Usage)
	})
	return out
}

func main() {
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(1)
	}

	sub := flags.Arg(0)
	var args []string
	if flags.NArg() > 1 {
		args = flags.Args()[1:]
		if flags.Arg(1) == "--" {
			args = flags.Args()[2:]
		}
	}

	switch sub {
	case "requester", "req", "r":
		if err := requesterFlags.Parse(args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			usage()
			os.Exit(1)
		}
		configureLogging()
		if err := requester(); err != nil {
			fmt.Fprintf(os.Stderr, "requester error: %v\n", err)
			os.Exit(2)
		}
	case "responder", "resp", "s":
		if err := responderFlags.Parse(args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			usage()
			os.Exit(1)
		}
		configureLogging()
		if err := responder(); err != nil {
			fmt.Fprintf(os.Stderr, "responder error: %v\n", err)
			os.Exit(2)
		}
	default:
		if sub != "" {
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", sub)
		}
		usage()
		os.Exit(1)
	}
}

func configureLogging() {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
