package observer

import (
	"context"
	"errors"
	"time"

	"github.com/dcshock/texpipe/pipeline"
)

type multi []pipeline.Observer

// Multi returns an observer that calls every non-nil observer in order. All of
// them run even when one fails; their errors are joined.
func Multi(observers ...pipeline.Observer) pipeline.Observer {
	var list multi
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

func (m multi) BeforePipeline(ctx context.Context, runID, name string) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.BeforePipeline(ctx, runID, name))
	}
	return errors.Join(errs...)
}

func (m multi) AfterPipeline(ctx context.Context, runID string, stats *pipeline.RunStats, err error) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterPipeline(ctx, runID, stats, err))
	}
	return errors.Join(errs...)
}

func (m multi) BeforeObject(ctx context.Context, runID string, index int, obj *pipeline.Object) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.BeforeObject(ctx, runID, index, obj))
	}
	return errors.Join(errs...)
}

func (m multi) AfterObject(ctx context.Context, runID string, index int, obj *pipeline.Object, outputs []*pipeline.Object, objErr error, duration time.Duration) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterObject(ctx, runID, index, obj, outputs, objErr, duration))
	}
	return errors.Join(errs...)
}
