// Command quill boots a QuillDB engine against a data directory, seeds a
// demo table the first time it runs, and serves the engine's observability
// surface until interrupted. It is a bootstrap harness, not a client: there
// is no network wire protocol to the database itself (SPEC_FULL.md Non-goals).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quilldb/quill/internal/config"
	"github.com/quilldb/quill/internal/logger"
	"github.com/quilldb/quill/internal/server"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/engine"
	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/types"
)

var metricsPort = flag.Int("metrics-port", 9090, "port the /metrics, /health, /ready, and pprof endpoints listen on")

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	eng, err := engine.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quill: failed to open database at %s: %v\n", cfg.DataDir, err)
		os.Exit(1)
	}

	if err := seedDemoTable(eng); err != nil {
		fmt.Fprintf(os.Stderr, "quill: demo bootstrap failed: %v\n", err)
		eng.Close()
		os.Exit(1)
	}

	obs := server.NewObservabilityServer(*metricsPort, logger.NewLogger(cfg.Logger()))
	go func() {
		if err := obs.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "quill: observability server stopped: %v\n", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("quill: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	obs.Shutdown(shutdownCtx)

	if err := eng.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "quill: error during shutdown: %v\n", err)
		os.Exit(1)
	}
}

// seedDemoTable creates a small "accounts" table the first time quill runs
// against a fresh data directory, then runs a sample
// query against it so startup logs show the engine is actually answering
// queries rather than just holding files open. Reopening an existing
// directory is a no-op: CreateTable on an already-registered name returns an
// error the catalog already guards against, so skip the seed if the table
// is already there.
func seedDemoTable(eng *engine.Engine) error {
	schema := types.Schema{
		Columns: []types.Column{
			{Name: "id", Kind: types.KindBigInt},
			{Name: "name", Kind: types.KindVarchar, VarcharLen: 64},
			{Name: "balance", Kind: types.KindDecimal, DecimalPrecision: 12, DecimalScale: 2},
		},
		PrimaryKey: []string{"id"},
	}

	if err := eng.CreateTable("accounts", schema); err != nil {
		if dberr.KindOf(err) == dberr.KindSemantic {
			// Table already exists from a prior run against this data
			// directory; nothing left to seed.
			return nil
		}
		return err
	}

	seed := []types.Tuple{
		{Values: []types.Value{types.BigIntValue(1), types.VarcharValue("ada"), types.DecimalValue(150000, 2)}},
		{Values: []types.Value{types.BigIntValue(2), types.VarcharValue("grace"), types.DecimalValue(275000, 2)}},
		{Values: []types.Value{types.BigIntValue(3), types.VarcharValue("alan"), types.DecimalValue(90000, 2)}},
	}
	for _, t := range seed {
		if _, err := eng.Insert("accounts", t); err != nil {
			return err
		}
	}

	rows, err := eng.Execute(&plan.TableScan{Table: "accounts"})
	if err != nil {
		return err
	}
	fmt.Printf("quill: seeded accounts table, %d rows present\n", len(rows))
	return nil
}
