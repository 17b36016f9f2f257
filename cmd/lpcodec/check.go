package main

import (
	"flag"
	"fmt"
	"io"
	"runtime"

	"github.com/basekick-labs/lineprotocol/internal/ingest"
	"github.com/basekick-labs/lineprotocol/internal/logger"
	"github.com/basekick-labs/lineprotocol/pkg/lineprotocol"
	"golang.org/x/sync/errgroup"
)

type checkResult struct {
	name  string
	stats ingest.Stats
	err   error
}

func (r checkResult) ok() bool {
	return r.err == nil && r.stats.Dropped == 0
}

// runCheck validates every input and prints one report line per file
// followed by the first line errors.
func runCheck(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	quiet := fs.Bool("q", false, "Only report files with errors")
	fs.Parse(args)

	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	in, err := resolveInput(cfg)
	if err != nil {
		return err
	}

	names := inputNames(fs)
	results := make([]checkResult, len(names))
	parser := ingest.NewParser(in.parser, logger.Get("check"))

	// Per-file failures are reported, not returned, so every file is checked.
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = checkFile(parser, name, in)
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range results {
		if !r.ok() {
			failed++
		}
		if *quiet && r.ok() {
			continue
		}
		printCheckResult(stdout, r)
	}

	if failed > 0 {
		fmt.Fprintf(stdout, "%d of %d inputs contain invalid line protocol\n", failed, len(results))
		return errInvalidInput
	}
	return nil
}

func checkFile(parser *ingest.Parser, name string, in inputSettings) checkResult {
	f, err := openInput(name, in)
	if err != nil {
		return checkResult{name: name, err: err}
	}
	defer f.Close()

	stats, err := parser.ParseStream(f, in.precision, in.precision, func(*lineprotocol.Point) error {
		return nil
	})
	return checkResult{name: name, stats: stats, err: err}
}

func printCheckResult(w io.Writer, r checkResult) {
	switch {
	case r.err != nil && r.stats.Points == 0 && r.stats.Dropped == 0:
		fmt.Fprintf(w, "%s: %v\n", r.name, r.err)
		return
	case r.err != nil:
		fmt.Fprintf(w, "%s: %d points before failure: %v\n", r.name, r.stats.Points, r.err)
	case r.stats.Dropped > 0:
		fmt.Fprintf(w, "%s: %d points, %d malformed lines\n", r.name, r.stats.Points, r.stats.Dropped)
	default:
		fmt.Fprintf(w, "%s: ok, %d points\n", r.name, r.stats.Points)
	}

	for _, lineErr := range r.stats.Errors {
		fmt.Fprintf(w, "  %v\n", lineErr)
	}
	if hidden := r.stats.Dropped - len(r.stats.Errors); hidden > 0 {
		fmt.Fprintf(w, "  ... and %d more\n", hidden)
	}
}
