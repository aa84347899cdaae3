package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/config"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/crypto"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"
)

// offlineFlags are the ledger-selection flags shared by offline commands.
type offlineFlags struct {
	backend     string
	path        string
	databaseURL string
}

func (o *offlineFlags) register(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&o.backend, "backend", cfg.LedgerBackend, "Ledger backend: file, sqlite or postgres")
	fs.StringVar(&o.path, "path", cfg.LedgerPath, "Ledger file or SQLite database path")
	fs.StringVar(&o.databaseURL, "database-url", cfg.DatabaseURL, "Postgres connection string")
}

// open applies the flags to cfg and opens the ledger they select along with
// its signing keys. Both must already exist; offline commands never create
// a ledger or a key.
func (o *offlineFlags) open(ctx context.Context, cfg *config.Config) (*ledgerHandle, *crypto.HMACSigner, error) {
	cfg.LedgerBackend = o.backend
	cfg.LedgerPath = o.path
	cfg.DatabaseURL = o.databaseURL
	switch cfg.LedgerBackend {
	case config.BackendMemory:
		return nil, nil, errors.New("the memory backend has nothing to read offline")
	case config.BackendFile, config.BackendSQLite:
		if _, err := os.Stat(cfg.LedgerPath); err != nil {
			return nil, nil, fmt.Errorf("ledger %s: %w", cfg.LedgerPath, err)
		}
	}

	keys, err := readSigner(cfg)
	if err != nil {
		return nil, nil, err
	}
	lh, err := openLedger(ctx, cfg, keys)
	if err != nil {
		return nil, nil, err
	}
	return lh, keys, nil
}

type verifyReport struct {
	Valid   bool               `json:"valid"`
	Backend string             `json:"backend"`
	Length  int                `json:"length"`
	Head    string             `json:"head,omitempty"`
	Failure *ledger.ChainError `json:"failure,omitempty"`
}

// runVerifyCmd implements `nyaya verify`.
//
// Exit codes:
//
//	0 = chain verified
//	1 = integrity violation
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		sel        offlineFlags
		jsonOutput bool
	)
	sel.register(cmd, cfg)
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	lh, _, err := sel.open(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = lh.close() }()

	report := verifyReport{Backend: cfg.LedgerBackend}
	if report.Length, err = lh.store.Len(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	verr := lh.store.VerifyChain(ctx)
	var ce *ledger.ChainError
	switch {
	case verr == nil:
		report.Valid = true
		if report.Head, err = lh.store.Head(ctx); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	case errors.As(verr, &ce):
		report.Failure = ce
	default:
		_, _ = fmt.Fprintf(stderr, "Error: verification failed: %v\n", verr)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if report.Valid {
		_, _ = fmt.Fprintf(stdout, "%sLedger verified%s: %d entries, head %s\n", ColorGreen, ColorReset, report.Length, report.Head)
	} else {
		_, _ = fmt.Fprintf(stdout, "%sLedger integrity violation%s at entry %d: %s\n", ColorRed, ColorReset, ce.Index, ce.Kind)
	}

	if !report.Valid {
		return 1
	}
	return 0
}
