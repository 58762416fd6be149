// Package main is the entry point for the ingest CLI.
//
// ingest runs the video ingestion pipeline for a single upload outside the
// queue worker, and exposes the toolchain check and sampling schedule for
// operators.
package main

import (
	"os"

	"github.com/amillerrr/video-ingest/cmd/ingest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
