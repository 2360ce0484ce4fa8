package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"

	"github.com/xtxerr/qoslog/internal/storage/aggregate"
	"github.com/xtxerr/qoslog/internal/storage/config"
	"github.com/xtxerr/qoslog/internal/storage/csvfmt"
	"github.com/xtxerr/qoslog/internal/storage/parquet"
	"github.com/xtxerr/qoslog/internal/storage/retention"
	"github.com/xtxerr/qoslog/internal/storage/samplestore"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

const defaultGetCount = 10

type command struct {
	name  string
	args  string
	help  string
	run   func(sh *shell, args []string) error
	quits bool
}

var commands []command

func init() {
	commands = []command{
		{name: "help", help: "list commands", run: (*shell).help},
		{name: "verify", help: "check that all source tables are aligned", run: (*shell).verify},
		{name: "count", help: "samples held per source", run: (*shell).count},
		{name: "start", help: "time of the oldest stored sample", run: (*shell).start},
		{name: "tables", help: "rows and time range per table", run: (*shell).tables},
		{name: "get", args: "<start> [n]", help: "print n samples from start", run: (*shell).get},
		{name: "dump", args: "<file>", help: "dump the store as CSV, or Parquet for *.parquet", run: (*shell).dump},
		{name: "clear", help: "drop and recreate all tables", run: (*shell).clear},
		{name: "summary", args: "<source> <field> [n]", help: "statistics of the last n samples (df, rate, mlr)", run: (*shell).summary},
		{name: "inspect", args: "<file.parquet>", help: "describe a Parquet dump", run: (*shell).inspect},
		{name: "stats", help: "store session statistics", run: (*shell).stats},
		{name: "dumps", help: "dump directory usage and files past max age", run: (*shell).dumps},
		{name: "requirements", help: "memory and disk needed by the configuration", run: (*shell).requirements},
		{name: "exit", help: "leave the shell", quits: true},
		{name: "quit", help: "leave the shell", quits: true},
	}
}

type shell struct {
	ctx   context.Context
	cfg   *config.Config
	store *samplestore.Store
	out   io.Writer
}

func newShell(ctx context.Context, cfg *config.Config, store *samplestore.Store, out io.Writer) *shell {
	return &shell{ctx: ctx, cfg: cfg, store: store, out: out}
}

// exec runs one command line. quit reports an exit command.
func (sh *shell) exec(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	for _, c := range commands {
		if c.name != fields[0] {
			continue
		}
		if c.quits {
			return true, nil
		}
		return false, c.run(sh, fields[1:])
	}
	return false, fmt.Errorf("unknown command %q, try help", fields[0])
}

func (sh *shell) complete(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	fields := strings.Fields(before)

	// complete arguments of summary
	if len(fields) >= 1 && fields[0] == "summary" {
		argIdx := len(fields) - 1
		if strings.HasSuffix(before, " ") {
			argIdx++
		}
		var s []prompt.Suggest
		switch argIdx {
		case 1:
			for _, src := range sh.store.Sources().Sources() {
				s = append(s, prompt.Suggest{Text: src.String()})
			}
		case 2:
			for _, f := range []aggregate.Field{aggregate.FieldDelayFactor, aggregate.FieldRate, aggregate.FieldMediaLossRate} {
				s = append(s, prompt.Suggest{Text: string(f)})
			}
		}
		return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
	}
	if len(fields) > 1 || strings.HasSuffix(before, " ") {
		return nil
	}

	s := make([]prompt.Suggest, 0, len(commands))
	for _, c := range commands {
		s = append(s, prompt.Suggest{Text: c.name, Description: c.help})
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func (sh *shell) help([]string) error {
	names := make([]string, 0, len(commands))
	byName := make(map[string]command, len(commands))
	for _, c := range commands {
		names = append(names, c.name)
		byName[c.name] = c
	}
	sort.Strings(names)
	for _, n := range names {
		c := byName[n]
		fmt.Fprintf(sh.out, "  %-28s %s\n", strings.TrimSpace(c.name+" "+c.args), c.help)
	}
	return nil
}

func (sh *shell) verify([]string) error {
	if err := sh.store.VerifyIntegrity(sh.ctx); err != nil {
		return err
	}
	fmt.Fprintln(sh.out, "ok")
	return nil
}

func (sh *shell) count([]string) error {
	n, err := sh.store.TotalSamples(sh.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.out, n)
	return nil
}

func (sh *shell) start([]string) error {
	ts, err := sh.store.StartTime(sh.ctx)
	if err != nil {
		return err
	}
	if ts == 0 {
		fmt.Fprintln(sh.out, "empty")
		return nil
	}
	fmt.Fprintf(sh.out, "%d (%s)\n", ts, time.Unix(ts, 0).UTC().Format(time.RFC3339))
	return nil
}

func (sh *shell) tables([]string) error {
	states, err := sh.store.Tables(sh.ctx)
	if err != nil {
		return err
	}
	for _, st := range states {
		fmt.Fprintln(sh.out, st)
	}
	return nil
}

func (sh *shell) get(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: get <start> [n]")
	}
	start, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	n := defaultGetCount
	if len(args) == 2 {
		if n, err = strconv.Atoi(args[1]); err != nil || n <= 0 {
			return fmt.Errorf("n must be a positive integer")
		}
	}

	ms := make([]types.Measurement, n)
	got, err := sh.store.Get(sh.ctx, ms, start)
	if err != nil {
		return err
	}

	// Get skips forward to the first stored sample at or after start
	first := start
	if stored, err := sh.store.StartTime(sh.ctx); err == nil && stored > first {
		first = stored
	}

	w := csvfmt.NewWriter(sh.out, csvfmt.New(sh.store.Sources(), csvfmt.UnixSeconds))
	if err := w.WriteHeader(); err != nil {
		return err
	}
	for i := range got {
		if err := w.Write(first+int64(i), &ms[i]); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (sh *shell) dump(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: dump <file>")
	}
	var err error
	if strings.HasSuffix(args[0], ".parquet") {
		err = sh.store.DumpParquet(sh.ctx, args[0], parquet.DefaultOptions())
	} else {
		err = sh.store.Dump(sh.ctx, args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "dumped to %s\n", args[0])
	return nil
}

func (sh *shell) clear([]string) error {
	if err := sh.store.Clear(sh.ctx); err != nil {
		return err
	}
	fmt.Fprintln(sh.out, "cleared")
	return nil
}

func (sh *shell) summary(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: summary <source> <field> [n]")
	}
	src, err := types.ParseSource(args[0])
	if err != nil {
		return err
	}
	if !sh.store.Sources().Contains(src) {
		return fmt.Errorf("source %s is not stored", src)
	}
	field, err := aggregate.ParseField(args[1])
	if err != nil {
		return err
	}

	total, err := sh.store.TotalSamples(sh.ctx)
	if err != nil {
		return err
	}
	n := total
	if len(args) == 3 {
		if n, err = strconv.Atoi(args[2]); err != nil || n <= 0 {
			return fmt.Errorf("n must be a positive integer")
		}
		n = min(n, total)
	}
	first, err := sh.store.StartTime(sh.ctx)
	if err != nil {
		return err
	}
	from := first + int64(total-n)

	ms := make([]types.Measurement, n)
	got, err := sh.store.Get(sh.ctx, ms, from)
	if err != nil {
		return err
	}

	s := aggregate.Summarize(src, field, from, ms[:got])
	if s.IsEmpty() {
		fmt.Fprintln(sh.out, "no samples")
		return nil
	}
	fmt.Fprintf(sh.out, "%s %s over %d samples from %d\n", src, field, s.Count, s.StartTime)
	fmt.Fprintf(sh.out, "  min %.6f  max %.6f  avg %.6f\n", s.Min, s.Max, s.Avg)
	if s.HasPercentiles() {
		fmt.Fprintf(sh.out, "  p50 %.6f  p90 %.6f  p95 %.6f  p99 %.6f\n", *s.P50, *s.P90, *s.P95, *s.P99)
	}
	return nil
}

func (sh *shell) inspect(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: inspect <file.parquet>")
	}
	info, err := parquet.GetFileInfo(args[0])
	if err != nil {
		return err
	}
	r, err := parquet.NewMeasurementReader(args[0])
	if err != nil {
		return err
	}
	defer r.Close()
	start, ms, err := r.ReadMeasurements()
	if err != nil {
		return err
	}

	fmt.Fprintf(sh.out, "%s: %s, %d rows, %d samples", info.Path, config.FormatBytes(info.Size), info.NumRows, len(ms))
	if len(ms) > 0 {
		fmt.Fprintf(sh.out, " from %d to %d", start, start+int64(len(ms))-1)
	}
	fmt.Fprintln(sh.out)
	return nil
}

func (sh *shell) stats([]string) error {
	s := sh.store.Stats()
	fmt.Fprintf(sh.out, "halted: %v\nfile: %s\nrows inserted: %d\nrows evicted: %d\nbatches: %d\ninconsistent pages: %d\nintegrity failures: %d\n",
		s.Halted, config.FormatBytes(s.FileBytes), s.RowsInserted, s.RowsEvicted, s.Batches, s.InconsistentPages, s.IntegrityFailures)
	return nil
}

func (sh *shell) requirements([]string) error {
	req := sh.cfg.CalculateRequirements()
	fmt.Fprint(sh.out, req.FormatRequirements())
	return nil
}

// dumps never deletes; the daemon's cleanup task does.
func (sh *shell) dumps([]string) error {
	m := retention.New(sh.cfg, nil)
	fmt.Fprint(sh.out, m.FormatDiskUsage())

	expired := 0
	for _, r := range m.DryRun() {
		expired += r.FilesDeleted
		for _, err := range r.Errors {
			fmt.Fprintf(sh.out, "  %s: %v\n", r.Kind, err)
		}
	}
	fmt.Fprintf(sh.out, "Past max age: %d files\n", expired)
	return nil
}
