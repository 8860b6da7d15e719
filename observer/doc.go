// Package observer provides pipeline.Observer implementations.
//
//   - LogObserver: logs run start/finish at info and per-object outcomes
//     (failures at warn) to a zap logger.
//   - Metrics: Prometheus counters for runs and objects, a per-object duration
//     histogram, and gauges mirroring checkpoint.Manager and DirectoryTerminus
//     counters (call Collect / CollectTerminus after a run).
//   - Multi: fans hooks out to several observers.
//
// Typical wiring:
//
//	metrics := observer.NewMetrics(prometheus.DefaultRegisterer)
//	obs := observer.Multi(observer.NewLogObserver(log), metrics)
//	stats, err := p.Run(ctx, &pipeline.RunOptions{Observer: obs})
//	metrics.Collect(checkpoints)
package observer
