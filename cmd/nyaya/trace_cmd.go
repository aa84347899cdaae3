package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/config"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/trace"
)

// runTraceCmd implements `nyaya trace`: it prints the reconstructed view of
// one trace as JSON. Exit 1 when the trace does not exist.
func runTraceCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("trace", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		sel     offlineFlags
		traceID string
	)
	sel.register(cmd, cfg)
	cmd.StringVar(&traceID, "id", "", "Trace ID (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if traceID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id is required")
		return 2
	}

	ctx := context.Background()
	lh, keys, err := sel.open(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = lh.close() }()

	view, err := trace.NewReconstructor(lh.store, keys).Reconstruct(ctx, traceID)
	if errors.Is(err, trace.ErrTraceNotFound) {
		_, _ = fmt.Fprintf(stderr, "Trace not found: %s\n", traceID)
		return 1
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	data, _ := json.MarshalIndent(view, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}
