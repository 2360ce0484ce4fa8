// qoslogd is the QoS logging daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	defaults "github.com/xtxerr/qoslog/config"
	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/logging"
	"github.com/xtxerr/qoslog/internal/metrics"
	"github.com/xtxerr/qoslog/internal/storage/aggregate"
	"github.com/xtxerr/qoslog/internal/storage/config"
	"github.com/xtxerr/qoslog/internal/storage/ingestion"
	"github.com/xtxerr/qoslog/internal/storage/parquet"
	"github.com/xtxerr/qoslog/internal/storage/retention"
	"github.com/xtxerr/qoslog/internal/storage/ringlog"
	"github.com/xtxerr/qoslog/internal/storage/samplestore"
	"github.com/xtxerr/qoslog/internal/storage/snapshot"
	"github.com/xtxerr/qoslog/internal/storage/synth"
	"github.com/xtxerr/qoslog/internal/storage/types"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "qoslog.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	demo := flag.Bool("demo", false, "feed synthetic measurements at 1 Hz")
	prefill := flag.Int("prefill", 0, "with -demo, fill the ring log with n synthetic samples at startup")
	seed := flag.Uint64("seed", 0, "with -demo, generator seed (0 = time based)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "qoslogd: %v\n", err)
			os.Exit(1)
		}
		cfg = config.DefaultConfig()
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logging.Init(level, cfg.Logging.JSON)
	log := logging.Component("qoslogd")

	if err != nil {
		log.Info("no config file found, using defaults", "path", *cfgPath)
	}

	d := &daemon{cfg: cfg, log: log, demo: *demo, prefill: *prefill, seed: *seed}
	if err := d.run(); err != nil {
		log.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

type daemon struct {
	cfg     *config.Config
	log     *slog.Logger
	demo    bool
	prefill int
	seed    uint64

	store   *samplestore.Store
	snaps   *snapshot.Manager
	ring    *ringlog.Log
	agg     *aggregate.Manager
	svc     *ingestion.Service
	ret     *retention.Manager
	metrics *metrics.Metrics
	reg     *prometheus.Registry
}

func (d *daemon) run() error {
	cfg := d.cfg
	d.log.Info("qoslogd starting", "version", Version, "data_dir", cfg.DataDir,
		"layer_mode", cfg.Store.LayerMode)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	req := cfg.CalculateRequirements()
	d.log.Info("resource requirements\n" + req.FormatRequirements())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.open(ctx); err != nil {
		return err
	}
	defer d.store.Close()

	if err := d.svc.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if d.demo {
		g.Go(func() error { return d.produce(gctx) })
	}
	g.Go(func() error {
		return every(gctx, cfg.Store.VerifyInterval, d.verify)
	})
	g.Go(func() error {
		return every(gctx, cfg.Retention.Interval, func(context.Context) { d.ret.RunCleanup() })
	})
	g.Go(func() error {
		return every(gctx, cfg.Retention.DumpInterval, d.dump)
	})
	g.Go(func() error {
		return every(gctx, d.agg.BucketSize(), func(context.Context) { d.logSummaries(d.agg.FlushCompleted()) })
	})
	if cfg.Metrics.Enabled {
		d.serveMetrics(gctx, g)
	}

	// SIGHUP flushes pending samples; SIGUSR1 lifts a write halt.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigs)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigs:
				if sig == syscall.SIGUSR1 {
					d.store.ResumeWrites()
				}
				d.log.Info("flushing pending samples", "signal", sig, "pending", d.svc.Stats().Pending)
				d.svc.ForceFlush()
			}
		}
	})

	d.log.Info("qoslogd running", "demo", d.demo, "metrics", cfg.Metrics.Enabled)
	err := g.Wait()

	// Stop flushes what is still pending to the store
	d.log.Info("shutting down")
	d.svc.Stop()
	d.logSummaries(d.agg.FlushAll())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.DefaultShutdownTimeout)
	defer cancel()
	if werr := d.ring.WaitSave(shutdownCtx); werr != nil {
		d.log.Warn("full save did not finish", "error", werr)
	}
	d.snaps.ReleaseAll()

	return err
}

// open creates the pipeline components.
func (d *daemon) open(ctx context.Context) error {
	cfg := d.cfg
	sources := cfg.Sources()

	var err error
	d.store, err = samplestore.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	if err := d.store.VerifyIntegrity(ctx); err != nil {
		d.log.Error("store failed startup integrity check, writes halted", "error", err)
	}

	d.snaps, err = snapshot.New(cfg.SnapshotOptions())
	if err != nil {
		return err
	}
	if err := d.snaps.EnsureDir(); err != nil {
		return err
	}

	d.ring, err = ringlog.New(ringlog.Options{
		Capacity:  cfg.Ring.Capacity,
		Sources:   sources,
		Snapshots: d.snaps,
	})
	if err != nil {
		return err
	}
	if d.demo && d.prefill > 0 {
		d.ring.RandomFill(d.prefill, synth.New(sources, d.seed+1))
		d.log.Info("ring log prefilled", "samples", d.ring.Len())
	}

	d.agg = aggregate.NewManager(sources, cfg.Aggregate.BucketSize, cfg.Aggregate.Accuracy)
	d.svc = ingestion.New(d.store, d.ring, d.agg, ingestion.OptionsFromConfig(cfg))
	d.ret = retention.New(cfg, nil)

	d.reg = prometheus.NewRegistry()
	d.metrics, err = metrics.New(d.reg, metrics.Sources{
		Store:     d.store,
		Log:       d.ring,
		Snapshots: d.snaps,
		Ingestion: d.svc,
		Retention: d.ret,
	})
	return err
}

// produce feeds synthetic measurements until ctx is done.
func (d *daemon) produce(ctx context.Context) error {
	seed := d.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	gen := synth.New(d.cfg.Sources(), seed)
	d.log.Info("demo producer started", "seed", seed, "nominal_rate", gen.NominalRate())

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.svc.Ingest(gen.Next()); err != nil {
				d.log.Warn("measurement dropped", "error", err)
			}
		}
	}
}

func (d *daemon) verify(ctx context.Context) {
	start := time.Now()
	err := d.store.VerifyIntegrity(ctx)
	d.metrics.ObserveVerify(time.Since(start), err)
	if err != nil {
		d.log.Error("periodic integrity check failed", "error", err)
	}
}

// dump writes a full store dump into the dump directory and starts a
// background save of the ring log next to it.
func (d *daemon) dump(ctx context.Context) {
	kind := retention.KindCSV
	if d.cfg.Retention.DumpFormat == "parquet" {
		kind = retention.KindParquet
	}
	now := time.Now()
	dir := d.cfg.DumpDir()

	path := filepath.Join(dir, retention.DumpName(retention.LabelStore, now, kind))
	var err error
	if kind == retention.KindParquet {
		err = d.store.DumpParquet(ctx, path, parquet.DefaultOptions())
	} else {
		err = d.store.Dump(ctx, path)
	}
	if err != nil {
		d.log.Error("store dump failed", "file", path, "error", err)
	} else {
		d.log.Info("store dumped", "file", path)
	}

	ringPath := filepath.Join(dir, retention.DumpName(retention.LabelRing, now, kind))
	if err := d.ring.SaveFull(ringPath); err != nil {
		d.log.Warn("ring log save not started", "file", ringPath, "error", err)
	}
}

func (d *daemon) logSummaries(summaries []types.Summary) {
	for _, s := range summaries {
		if s.IsEmpty() {
			continue
		}
		args := []any{
			"source", s.Source.Key(),
			"field", s.Field,
			"start", time.Unix(s.StartTime, 0).UTC(),
			"count", s.Count,
			"min", s.Min,
			"max", s.Max,
			"avg", s.Avg,
		}
		if s.HasPercentiles() {
			args = append(args, "p50", *s.P50, "p95", *s.P95, "p99", *s.P99)
		}
		d.log.Info("summary", args...)
	}
}

func (d *daemon) serveMetrics(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(d.reg))
	srv := &http.Server{
		Addr:              d.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		d.log.Info("metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// every runs fn at interval until ctx is done. A non-positive interval
// disables the task.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
