package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dcshock/texpipe/checkpoint"
	"github.com/dcshock/texpipe/config"
	"github.com/dcshock/texpipe/fsio"
	"github.com/dcshock/texpipe/logging"
	"github.com/dcshock/texpipe/observer"
	"github.com/dcshock/texpipe/pipeline"
)

// runner is a pipeline or a sequence.
type runner interface {
	Run(ctx context.Context, opts *pipeline.RunOptions) (*pipeline.RunStats, error)
}

func runFile(ctx context.Context, out io.Writer, path string, s *config.Settings, only, sequence string) error {
	if s.Purge && (only != "" || sequence != "") {
		return pipeline.ConfigErrorf("--purge needs a run of every pipeline; drop --pipeline/--sequence")
	}
	logger, err := logging.New(s.Logging())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Component("texpipe")

	multi, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	checkpoints, err := checkpoint.NewManager(s.CheckpointRoot, checkpoint.WithLogger(logger.Component("checkpoint")))
	if err != nil {
		return err
	}
	reg := config.RegisterBuiltins(config.NewRegistry())
	built, err := config.BuildAllPipelines(reg, multi, &config.BuildOptions{
		Checkpoints: checkpoints,
		Logger:      logger.Component("fsio"),
	})
	if err != nil {
		return err
	}
	sequences, err := config.BuildAllSequences(multi, built)
	if err != nil {
		return err
	}

	target, ran, err := selectTarget(built, sequences, only, sequence)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observer.NewMetrics(promReg)
	if s.MetricsAddr != "" {
		shutdown, err := serveMetrics(s.MetricsAddr, promReg, log)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	obs := observer.Multi(observer.NewLogObserver(logger.Component("run")), metrics)
	stats, runErr := target.Run(ctx, &pipeline.RunOptions{Observer: obs})
	metrics.Collect(checkpoints)

	var outputs fsio.TerminusStats
	for _, t := range outputDirs(ran) {
		ts := t.Stats()
		outputs.Written += ts.Written
		outputs.Skipped += ts.Skipped
		outputs.Touched += ts.Touched
	}
	metrics.CollectTerminus(outputs)

	cs := checkpoints.Stats()
	if stats != nil {
		fmt.Fprintf(out, "run %s: %d objects, %d failed, %d outputs\n", stats.RunID, stats.Total, stats.Failed, stats.Outputs)
	}
	fmt.Fprintf(out, "checkpoints: %d hits, %d misses, %d written\n", cs.Hits, cs.Misses, cs.Writes)
	fmt.Fprintf(out, "outputs: %d written, %d unchanged, %d skipped\n", outputs.Written, outputs.Touched, outputs.Skipped)
	if runErr != nil {
		return runErr
	}
	if !s.Purge {
		return nil
	}
	return purge(out, checkpoints, ran)
}

// selectTarget picks what to run and returns the pipelines involved.
// With no selection every pipeline runs, in name order, under one run id.
func selectTarget(built map[string]*pipeline.Pipeline, sequences map[string]*pipeline.Sequence, only, sequence string) (runner, []*pipeline.Pipeline, error) {
	switch {
	case only != "":
		p, ok := built[only]
		if !ok {
			return nil, nil, pipeline.ConfigErrorf("pipeline %q not defined", only)
		}
		return p, []*pipeline.Pipeline{p}, nil
	case sequence != "":
		seq, ok := sequences[sequence]
		if !ok {
			return nil, nil, pipeline.ConfigErrorf("sequence %q not defined", sequence)
		}
		return seq, seq.Pipelines, nil
	}
	all := &pipeline.Sequence{Name: "all"}
	for _, n := range sortedNames(built) {
		all.Pipelines = append(all.Pipelines, built[n])
	}
	return all, all.Pipelines, nil
}

func purge(out io.Writer, checkpoints *checkpoint.Manager, ran []*pipeline.Pipeline) error {
	res, err := checkpoints.PurgeUnrecognizedFiles("")
	if err != nil {
		return fmt.Errorf("purge checkpoints: %w", err)
	}
	fmt.Fprintf(out, "purged %d checkpoint files, %d directories\n", len(res.Files), len(res.Dirs))
	var errs []error
	for _, t := range outputDirs(ran) {
		res, err := t.PurgeUnrecognizedFiles()
		if err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", t.Dir(), err))
			continue
		}
		fmt.Fprintf(out, "purged %d output files from %s\n", len(res.Files), t.Dir())
	}
	return errors.Join(errs...)
}

// outputDirs returns the directory termini of ran, each once even when several
// pipelines write to it.
func outputDirs(ran []*pipeline.Pipeline) []*fsio.DirectoryTerminus {
	seen := make(map[*fsio.DirectoryTerminus]bool)
	var out []*fsio.DirectoryTerminus
	for _, p := range ran {
		t, ok := p.Terminus.(*fsio.DirectoryTerminus)
		if !ok || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
