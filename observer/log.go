package observer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dcshock/texpipe/logging"
	"github.com/dcshock/texpipe/pipeline"
)

// LogObserver writes run and per-object outcomes to a zap logger. Successful
// objects are logged at debug level, failures at warn.
type LogObserver struct {
	log *zap.Logger
}

// NewLogObserver returns an observer logging to l; nil discards everything.
func NewLogObserver(l *zap.Logger) *LogObserver {
	return &LogObserver{log: logging.OrNop(l)}
}

// BeforePipeline implements pipeline.Observer.
func (o *LogObserver) BeforePipeline(ctx context.Context, runID, name string) error {
	o.log.Info("pipeline started", zap.String("run_id", runID), zap.String("pipeline", name))
	return nil
}

// AfterPipeline implements pipeline.Observer.
func (o *LogObserver) AfterPipeline(ctx context.Context, runID string, stats *pipeline.RunStats, err error) error {
	name, _ := pipeline.PipelineNameFromContext(ctx)
	fields := []zap.Field{zap.String("run_id", runID), zap.String("pipeline", name)}
	if stats != nil {
		fields = append(fields,
			zap.Int("total", stats.Total),
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("failed", stats.Failed),
			zap.Int("outputs", stats.Outputs))
	}
	if err != nil {
		o.log.Error("pipeline finished with errors", append(fields, zap.Error(err))...)
		return nil
	}
	o.log.Info("pipeline finished", fields...)
	return nil
}

// BeforeObject implements pipeline.Observer.
func (o *LogObserver) BeforeObject(ctx context.Context, runID string, index int, obj *pipeline.Object) error {
	o.log.Debug("object started", zap.String("run_id", runID), zap.Int("index", index), zap.String("object", obj.LocationName()))
	return nil
}

// AfterObject implements pipeline.Observer.
func (o *LogObserver) AfterObject(ctx context.Context, runID string, index int, obj *pipeline.Object, outputs []*pipeline.Object, objErr error, duration time.Duration) error {
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.Int("index", index),
		zap.String("object", obj.LocationName()),
		zap.Duration("duration", duration),
	}
	if objErr != nil {
		o.log.Warn("object failed", append(fields, zap.Error(objErr))...)
		return nil
	}
	o.log.Debug("object done", append(fields, zap.Int("outputs", len(outputs)))...)
	return nil
}
