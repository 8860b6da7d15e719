package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dcshock/texpipe/config"
)

// globalFlags override the TEXPIPE_* environment settings when set.
type globalFlags struct {
	checkpointRoot string
	logLevel       string
	logDev         bool
}

type runFlags struct {
	pipeline    string
	sequence    string
	purge       bool
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "texpipe",
		Short: "Run checkpointed texture pipelines",
		Long: `texpipe pushes every image under a source directory through a chain of
stages defined in YAML. Expensive stages are checkpointed on disk so each
(image, stage) pair runs once until its checkpoint is purged.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.checkpointRoot, "checkpoint-root", "", "checkpoint directory (env TEXPIPE_CHECKPOINT_ROOT)")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error (env TEXPIPE_LOG_LEVEL)")
	pf.BoolVar(&g.logDev, "log-dev", false, "human-readable console logs (env TEXPIPE_LOG_DEV)")

	root.AddCommand(newRunCmd(g), newPurgeCmd(g), newStagesCmd())
	return root
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <pipelines.yaml>",
		Short: "Run the pipelines defined in a file",
		Long: `Run every pipeline in the file, in name order, or a single pipeline or
sequence. With --purge, checkpoints and outputs not produced by the run are
deleted afterwards; purging requires running everything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("purge") {
				s.Purge = f.purge
			}
			if cmd.Flags().Changed("metrics-addr") {
				s.MetricsAddr = f.metricsAddr
			}
			return runFile(cmd.Context(), cmd.OutOrStdout(), args[0], s, f.pipeline, f.sequence)
		},
	}
	cmd.Flags().StringVar(&f.pipeline, "pipeline", "", "run only this pipeline")
	cmd.Flags().StringVar(&f.sequence, "sequence", "", "run only this sequence")
	cmd.Flags().BoolVar(&f.purge, "purge", false, "delete unobserved checkpoints and outputs after the run (env TEXPIPE_PURGE)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics here during the run (env TEXPIPE_METRICS_ADDR)")
	cmd.MarkFlagsMutuallyExclusive("pipeline", "sequence")
	return cmd
}

func newPurgeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <pipelines.yaml>",
		Short: "Run all pipelines, then delete stale checkpoints and outputs",
		Long: `A checkpoint is live only if a run touches it, so purge runs every pipeline
in the file first (cheap when the cache is warm) and then sweeps the
checkpoint root and each output directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings(cmd)
			if err != nil {
				return err
			}
			s.Purge = true
			return runFile(cmd.Context(), cmd.OutOrStdout(), args[0], s, "", "")
		},
	}
}

func newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages [pipelines.yaml]",
		Short: "List the stages and sorters available to pipeline files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			reg := config.RegisterBuiltins(config.NewRegistry())
			fmt.Fprintln(out, "stages:")
			for _, n := range reg.Names() {
				fmt.Fprintln(out, "  "+n)
			}
			fmt.Fprintln(out, "sorters:")
			for _, n := range reg.SorterNames() {
				fmt.Fprintln(out, "  "+n)
			}
			if len(args) == 0 {
				return nil
			}
			multi, err := config.LoadFile(args[0])
			if err != nil {
				return err
			}
			commands := make(map[string]config.CommandSpec)
			for k, v := range multi.Commands {
				commands[k] = v
			}
			for _, p := range multi.Pipelines {
				for k, v := range p.Commands {
					commands[k] = v
				}
			}
			if len(commands) > 0 {
				fmt.Fprintln(out, "commands:")
				for _, n := range sortedNames(commands) {
					fmt.Fprintf(out, "  %s: %v\n", n, commands[n].Args)
				}
			}
			return nil
		},
	}
}

// settings loads the environment and applies flags that were set explicitly.
func (g *globalFlags) settings(cmd *cobra.Command) (*config.Settings, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("checkpoint-root") {
		s.CheckpointRoot = g.checkpointRoot
	}
	if flags.Changed("log-level") {
		s.LogLevel = g.logLevel
	}
	if flags.Changed("log-dev") {
		s.LogDev = g.logDev
	}
	return s, nil
}
