package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/basekick-labs/lineprotocol/internal/ingest"
	"github.com/basekick-labs/lineprotocol/internal/logger"
	"github.com/basekick-labs/lineprotocol/pkg/lineprotocol"
	"golang.org/x/sync/errgroup"
)

type measurementSummary struct {
	Points int               `json:"points"`
	Series int               `json:"series"`
	Tags   []string          `json:"tags"`
	Fields map[string]string `json:"fields"`

	series map[uint64]struct{}
	tags   map[string]struct{}
}

type summary struct {
	Inputs       int                            `json:"inputs"`
	Points       int                            `json:"points"`
	Dropped      int                            `json:"dropped"`
	Series       int                            `json:"series"`
	MinTime      *int64                         `json:"min_time,omitempty"`
	MaxTime      *int64                         `json:"max_time,omitempty"`
	Measurements map[string]*measurementSummary `json:"measurements"`

	mu     sync.Mutex
	series map[uint64]struct{}
}

func newSummary() *summary {
	return &summary{
		Measurements: make(map[string]*measurementSummary),
		series:       make(map[uint64]struct{}),
	}
}

func (s *summary) add(pt *lineprotocol.Point) {
	id := pt.SeriesID()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Points++
	s.series[id] = struct{}{}
	if ts := pt.Timestamp; ts != nil {
		if s.MinTime == nil || *ts < *s.MinTime {
			v := *ts
			s.MinTime = &v
		}
		if s.MaxTime == nil || *ts > *s.MaxTime {
			v := *ts
			s.MaxTime = &v
		}
	}

	m, ok := s.Measurements[pt.Measurement]
	if !ok {
		m = &measurementSummary{
			Fields: make(map[string]string),
			series: make(map[uint64]struct{}),
			tags:   make(map[string]struct{}),
		}
		s.Measurements[pt.Measurement] = m
	}
	m.Points++
	m.series[id] = struct{}{}
	for _, tag := range pt.Tags {
		m.tags[tag.Key] = struct{}{}
	}
	for _, field := range pt.Fields {
		// A field seen with several types is reported as "mixed".
		typ := fieldType(field.Value)
		if prev, seen := m.Fields[field.Key]; seen && prev != typ {
			typ = "mixed"
		}
		m.Fields[field.Key] = typ
	}
}

func (s *summary) finish() {
	s.Series = len(s.series)
	for _, m := range s.Measurements {
		m.Series = len(m.series)
		m.Tags = make([]string, 0, len(m.tags))
		for k := range m.tags {
			m.Tags = append(m.Tags, k)
		}
		sort.Strings(m.Tags)
	}
}

func fieldType(v lineprotocol.Value) string {
	if n, ok := v.Number(); ok {
		return n.Kind().String()
	}
	return v.Kind().String()
}

// runStats summarises measurements, series and field types over all
// inputs.
func runStats(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	asJSON := fs.Bool("json", false, "Print the summary as JSON")
	fs.Parse(args)

	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	in, err := resolveInput(cfg)
	if err != nil {
		return err
	}

	parserCfg := in.parser
	parserCfg.KeepMissingTimestamps = true
	parser := ingest.NewParser(parserCfg, logger.Get("stats"))

	names := inputNames(fs)
	sum := newSummary()
	sum.Inputs = len(names)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, name := range names {
		name := name
		g.Go(func() error {
			f, err := openInput(name, in)
			if err != nil {
				return err
			}
			defer f.Close()

			stats, err := parser.ParseStream(f, in.precision, ingest.Nanosecond, func(pt *lineprotocol.Point) error {
				sum.add(pt)
				return nil
			})
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			sum.mu.Lock()
			sum.Dropped += stats.Dropped
			sum.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	sum.finish()

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	printSummary(stdout, sum)
	return nil
}

func printSummary(w io.Writer, s *summary) {
	fmt.Fprintf(w, "inputs:       %d\n", s.Inputs)
	fmt.Fprintf(w, "points:       %d\n", s.Points)
	fmt.Fprintf(w, "dropped:      %d\n", s.Dropped)
	fmt.Fprintf(w, "series:       %d\n", s.Series)
	fmt.Fprintf(w, "measurements: %d\n", len(s.Measurements))
	if s.MinTime != nil {
		fmt.Fprintf(w, "time range:   %s .. %s\n",
			time.Unix(0, *s.MinTime).UTC().Format(time.RFC3339Nano),
			time.Unix(0, *s.MaxTime).UTC().Format(time.RFC3339Nano))
	}

	names := make([]string, 0, len(s.Measurements))
	for name := range s.Measurements {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := s.Measurements[name]
		fmt.Fprintf(w, "\n%s: %d points, %d series\n", name, m.Points, m.Series)
		if len(m.Tags) > 0 {
			fmt.Fprintf(w, "  tags:   %v\n", m.Tags)
		}
		keys := make([]string, 0, len(m.Fields))
		for k := range m.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  field:  %s %s\n", k, m.Fields[k])
		}
	}
}
