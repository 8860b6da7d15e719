package observer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dcshock/texpipe/checkpoint"
	"github.com/dcshock/texpipe/fsio"
	"github.com/dcshock/texpipe/pipeline"
)

// Object outcome label values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Metrics records pipeline activity as Prometheus metrics. It implements
// pipeline.Observer; checkpoint and output counters are snapshots taken by
// Collect and CollectTerminus.
type Metrics struct {
	Runs           *prometheus.CounterVec
	Objects        *prometheus.CounterVec
	ObjectDuration *prometheus.HistogramVec
	Outputs        *prometheus.CounterVec

	CheckpointHits     prometheus.Gauge
	CheckpointMisses   prometheus.Gauge
	CheckpointWrites   prometheus.Gauge
	CheckpointRepoints prometheus.Gauge
	CheckpointObserved prometheus.Gauge

	OutputFiles *prometheus.GaugeVec
}

// NewMetrics creates the metrics and registers them with reg. A nil reg leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "texpipe_runs_total",
				Help: "Pipeline runs by outcome",
			},
			[]string{"pipeline", "status"},
		),
		Objects: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "texpipe_objects_total",
				Help: "Source objects processed by outcome",
			},
			[]string{"pipeline", "status"},
		),
		ObjectDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "texpipe_object_duration_seconds",
				Help:    "Time to push one source object through the pipeline",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"pipeline"},
		),
		Outputs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "texpipe_outputs_total",
				Help: "Objects handed to the terminus",
			},
			[]string{"pipeline"},
		),
		CheckpointHits: f.NewGauge(prometheus.GaugeOpts{
			Name: "texpipe_checkpoint_hits",
			Help: "Post-checkpoint loads that found every checkpoint",
		}),
		CheckpointMisses: f.NewGauge(prometheus.GaugeOpts{
			Name: "texpipe_checkpoint_misses",
			Help: "Post-checkpoint loads that had to run the segment",
		}),
		CheckpointWrites: f.NewGauge(prometheus.GaugeOpts{
			Name: "texpipe_checkpoint_writes",
			Help: "Objects written into the checkpoint cache",
		}),
		CheckpointRepoints: f.NewGauge(prometheus.GaugeOpts{
			Name: "texpipe_checkpoint_repoints",
			Help: "Objects pointed at an existing checkpoint without writing",
		}),
		CheckpointObserved: f.NewGauge(prometheus.GaugeOpts{
			Name: "texpipe_checkpoint_observed",
			Help: "Distinct checkpoints observed by this process",
		}),
		OutputFiles: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "texpipe_output_files",
				Help: "Output files by what the terminus did with them",
			},
			[]string{"result"},
		),
	}
}

// Collect copies the manager's counters into the checkpoint gauges.
func (m *Metrics) Collect(cm *checkpoint.Manager) {
	s := cm.Stats()
	m.CheckpointHits.Set(float64(s.Hits))
	m.CheckpointMisses.Set(float64(s.Misses))
	m.CheckpointWrites.Set(float64(s.Writes))
	m.CheckpointRepoints.Set(float64(s.Repoints))
	m.CheckpointObserved.Set(float64(s.Observed))
}

// CollectTerminus copies a directory terminus' counters into OutputFiles.
func (m *Metrics) CollectTerminus(s fsio.TerminusStats) {
	m.OutputFiles.WithLabelValues("written").Set(float64(s.Written))
	m.OutputFiles.WithLabelValues("skipped").Set(float64(s.Skipped))
	m.OutputFiles.WithLabelValues("touched").Set(float64(s.Touched))
}

// BeforePipeline implements pipeline.Observer.
func (m *Metrics) BeforePipeline(ctx context.Context, runID, name string) error { return nil }

// AfterPipeline implements pipeline.Observer.
func (m *Metrics) AfterPipeline(ctx context.Context, runID string, stats *pipeline.RunStats, err error) error {
	m.Runs.WithLabelValues(pipelineName(ctx), status(err)).Inc()
	return nil
}

// BeforeObject implements pipeline.Observer.
func (m *Metrics) BeforeObject(ctx context.Context, runID string, index int, obj *pipeline.Object) error {
	return nil
}

// AfterObject implements pipeline.Observer.
func (m *Metrics) AfterObject(ctx context.Context, runID string, index int, obj *pipeline.Object, outputs []*pipeline.Object, objErr error, duration time.Duration) error {
	name := pipelineName(ctx)
	m.Objects.WithLabelValues(name, status(objErr)).Inc()
	m.ObjectDuration.WithLabelValues(name).Observe(duration.Seconds())
	if objErr == nil {
		m.Outputs.WithLabelValues(name).Add(float64(len(outputs)))
	}
	return nil
}

func pipelineName(ctx context.Context) string {
	name, _ := pipeline.PipelineNameFromContext(ctx)
	return name
}

func status(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusSuccess
}
