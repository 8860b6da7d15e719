package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/dcshock/texpipe/checkpoint"
	"github.com/dcshock/texpipe/fsio"
	"github.com/dcshock/texpipe/imaging"
	"github.com/dcshock/texpipe/logging"
	"github.com/dcshock/texpipe/pipeline"
	"github.com/dcshock/texpipe/stages"
)

// Retry defaults applied when a retry block leaves a field unset.
const (
	DefaultRetryAttempts   = 3
	DefaultRetryBackoff    = time.Second
	DefaultRetryMultiplier = 2
)

// BuildOptions configures how a pipeline is built from config.
type BuildOptions struct {
	// Checkpoints is required when any stage has a checkpoint block.
	Checkpoints *checkpoint.Manager

	// Codec is given to source objects and command outputs. Nil means
	// imaging.Passthrough{}, which keeps non-image command output as bytes.
	Codec pipeline.Codec

	Logger *zap.Logger

	// Source and Terminus, when set, replace the config's source and output.
	Source   pipeline.Source
	Terminus pipeline.Terminus

	// Commands are shared command stages; the pipeline's own commands win.
	Commands map[string]CommandSpec
}

func (o *BuildOptions) codec() pipeline.Codec {
	if o == nil || o.Codec == nil {
		return imaging.Passthrough{}
	}
	return o.Codec
}

func (o *BuildOptions) logger() *zap.Logger {
	if o == nil {
		return zap.NewNop()
	}
	return logging.OrNop(o.Logger)
}

// builder resolves stage references for one pipeline.
type builder struct {
	reg      *Registry
	opts     *BuildOptions
	commands map[string]CommandSpec
}

// BuildSegment builds the segment graph of cfg: every stage resolved, wrapped in
// its modifiers and chained. A pipeline with no stages yields nil, which the
// runner treats as pass-through.
func BuildSegment(reg *Registry, cfg *PipelineConfig, opts *BuildOptions) (pipeline.Segment, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if reg == nil {
		reg = NewRegistry()
	}
	b := &builder{reg: reg, opts: opts, commands: make(map[string]CommandSpec)}
	if opts != nil {
		for k, v := range opts.Commands {
			b.commands[k] = v
		}
	}
	for k, v := range cfg.Commands {
		b.commands[k] = v
	}
	if len(cfg.Stages) == 0 {
		return nil, nil
	}
	return b.chain(cfg.Stages, "")
}

// BuildPipeline builds a pipeline.Pipeline from config and registry. Stage names must be
// registered or defined under commands. The source is a fsio.DirectorySource over
// cfg.Source and the terminus a fsio.DirectoryTerminus on cfg.Output, unless
// BuildOptions overrides them. A pipeline without an output discards its results.
func BuildPipeline(reg *Registry, cfg *PipelineConfig, opts *BuildOptions) (*pipeline.Pipeline, error) {
	seg, err := BuildSegment(reg, cfg, opts)
	if err != nil {
		return nil, err
	}
	p := &pipeline.Pipeline{Name: cfg.Name, Segment: seg}
	if p.Source, err = buildSource(cfg, opts); err != nil {
		return nil, err
	}
	if p.Terminus, err = buildTerminus(cfg, opts); err != nil {
		return nil, err
	}
	return p, nil
}

func buildSource(cfg *PipelineConfig, opts *BuildOptions) (pipeline.Source, error) {
	if opts != nil && opts.Source != nil {
		return opts.Source, nil
	}
	if cfg.Source == nil || cfg.Source.Dir == "" {
		return nil, pipeline.ConfigErrorf("pipeline %q: source directory required", cfg.Name)
	}
	include, err := compileAll(cfg.Source.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compileAll(cfg.Source.Exclude)
	if err != nil {
		return nil, err
	}
	return &fsio.DirectorySource{
		Root:    cfg.Source.Dir,
		Globs:   cfg.Source.Globs,
		Include: include,
		Exclude: append(append([]*regexp.Regexp(nil), fsio.DefaultExclude...), exclude...),
		Reverse: cfg.Source.Reverse,
		Codec:   opts.codec(),
		Logger:  opts.logger(),
	}, nil
}

func buildTerminus(cfg *PipelineConfig, opts *BuildOptions) (pipeline.Terminus, error) {
	if opts != nil && opts.Terminus != nil {
		return opts.Terminus, nil
	}
	if cfg.Output == "" {
		return nil, nil
	}
	t, err := fsio.NewDirectoryTerminus(cfg.Output, opts.logger())
	if err != nil {
		return nil, err
	}
	return t, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, pipeline.ConfigErrorf("pattern %q: %v", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (b *builder) chain(refs []StageRef, prefix string) (pipeline.Segment, error) {
	segs := make([]pipeline.Segment, 0, len(refs))
	for i, ref := range refs {
		seg, err := b.stage(ref, prefix)
		if err != nil {
			return nil, fmt.Errorf("stage %s%d (%q): %w", prefix, i, ref.Label(), err)
		}
		segs = append(segs, seg)
	}
	if len(segs) == 1 {
		return segs[0], nil
	}
	return pipeline.Chain(segs...), nil
}

// stage resolves one reference and applies its modifiers, innermost first:
// each, timeout, retry, pre checkpoint, post checkpoint. The checkpoints are
// outermost so that a cache hit skips the retries and timeouts entirely.
func (b *builder) stage(ref StageRef, prefix string) (pipeline.Segment, error) {
	seg, err := b.resolve(ref, prefix)
	if err != nil {
		return nil, err
	}
	if ref.Each {
		seg = pipeline.Each(seg)
	}
	if ref.Timeout > 0 {
		seg = pipeline.WithTimeout(seg, ref.Timeout.Duration())
	}
	if ref.Retry != nil {
		policy, err := retryPolicy(ref.Retry)
		if err != nil {
			return nil, err
		}
		seg = pipeline.Retry(seg, policy)
	}
	if ref.Checkpoint != nil {
		return b.checkpoint(seg, ref.Checkpoint)
	}
	return seg, nil
}

func (b *builder) resolve(ref StageRef, prefix string) (pipeline.Segment, error) {
	if ref.Branch != nil {
		if ref.Name != "" {
			return nil, pipeline.ConfigErrorf("stage has both a name and a branch")
		}
		return b.branch(ref.Branch, prefix)
	}
	if ref.Name == "" {
		return nil, pipeline.ConfigErrorf("name required")
	}
	if spec, ok := b.commands[ref.Name]; ok {
		return b.command(ref.Name, spec)
	}
	seg, ok := b.reg.Get(ref.Name)
	if !ok {
		return nil, pipeline.ConfigErrorf("%q not in registry", ref.Name)
	}
	return seg, nil
}

func (b *builder) branch(cfg *BranchConfig, prefix string) (pipeline.Segment, error) {
	sorter, ok := b.reg.Sorter(cfg.Sorter)
	if !ok {
		return nil, pipeline.ConfigErrorf("sorter %q not in registry", cfg.Sorter)
	}
	if len(cfg.Routes) == 0 {
		return nil, pipeline.ConfigErrorf("branch on %q has no routes", cfg.Sorter)
	}
	routes := make(map[string]pipeline.Segment, len(cfg.Routes))
	for _, key := range sortedKeys(cfg.Routes) {
		seg, err := b.route(cfg.Routes[key], prefix+key+".")
		if err != nil {
			return nil, err
		}
		routes[key] = seg
	}
	var fallback pipeline.Segment
	if cfg.Fallback != nil {
		var err error
		if fallback, err = b.route(cfg.Fallback, prefix+"fallback."); err != nil {
			return nil, err
		}
	}
	return pipeline.Branch(sorter, routes, fallback), nil
}

// route builds a branch arm; an empty arm passes its object through.
func (b *builder) route(refs []StageRef, prefix string) (pipeline.Segment, error) {
	if len(refs) == 0 {
		return pipeline.Identity(), nil
	}
	return b.chain(refs, prefix)
}

func (b *builder) command(name string, spec CommandSpec) (pipeline.Segment, error) {
	if len(spec.Args) == 0 {
		return nil, pipeline.ConfigErrorf("command %q: args required", name)
	}
	cfg := stages.CommandConfig{
		Name:  name,
		Args:  spec.Args,
		Ext:   spec.Ext,
		Codec: commandCodec(b.opts.codec()),
	}
	if spec.Retryable != "" {
		re, err := regexp.Compile(spec.Retryable)
		if err != nil {
			return nil, pipeline.ConfigErrorf("command %q retryable: %v", name, err)
		}
		cfg.Retryable = re
	}
	return stages.Command(cfg), nil
}

// commandCodec lets commands built on the image codec produce non-image files.
func commandCodec(c pipeline.Codec) pipeline.Codec {
	if ic, ok := c.(imaging.Codec); ok {
		return imaging.Passthrough{Codec: ic}
	}
	return c
}

func (b *builder) checkpoint(seg pipeline.Segment, cfg *CheckpointConfig) (pipeline.Segment, error) {
	if b.opts == nil || b.opts.Checkpoints == nil {
		return nil, pipeline.ConfigErrorf("checkpoint requires BuildOptions.Checkpoints")
	}
	if len(cfg.Pre) == 0 && len(cfg.Post) == 0 {
		return nil, pipeline.ConfigErrorf("checkpoint needs pre or post names")
	}
	if len(cfg.Internal) > 0 && len(cfg.Post) == 0 {
		return nil, pipeline.ConfigErrorf("internal checkpoints need post names")
	}
	m := b.opts.Checkpoints
	if len(cfg.Pre) > 0 {
		pre, err := m.Pre(seg, cfg.Pre...)
		if err != nil {
			return nil, err
		}
		seg = pre
	}
	if len(cfg.Post) > 0 {
		internal := make([]checkpoint.Internal, len(cfg.Internal))
		for i, n := range cfg.Internal {
			internal[i] = checkpoint.Name(n)
		}
		post, err := m.Post(seg, cfg.Post, internal...)
		if err != nil {
			return nil, err
		}
		seg = post
	}
	return seg, nil
}

func retryPolicy(cfg *RetryConfig) (pipeline.RetryPolicy, error) {
	p := pipeline.RetryPolicy{
		MaxAttempts: cfg.Attempts,
		Backoff:     cfg.Backoff.Duration(),
		Cap:         cfg.Cap.Duration(),
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultRetryBackoff
	}
	switch cfg.Strategy {
	case "", "fixed":
	case "exponential":
		p.Multiplier = cfg.Multiplier
		if p.Multiplier <= 1 {
			p.Multiplier = DefaultRetryMultiplier
		}
	default:
		return p, pipeline.ConfigErrorf("retry %q not supported (use \"fixed\" or \"exponential\")", cfg.Strategy)
	}
	if cfg.OnlyRetryable {
		p.ShouldRetry = pipeline.IsRetryable
	}
	return p, nil
}

// BuildAllPipelines builds a pipeline.Pipeline for each entry in multi. Keys are pipeline names.
// If a pipeline config's Name is empty, the map key is used as the pipeline name.
// Commands defined at the top of multi are available to every pipeline. Pipelines
// with the same output directory share one terminus, so a purge of that
// directory keeps what any of them wrote; nested output directories are rejected.
func BuildAllPipelines(reg *Registry, multi *MultiPipelineConfig, opts *BuildOptions) (map[string]*pipeline.Pipeline, error) {
	if multi == nil {
		return nil, fmt.Errorf("MultiPipelineConfig is nil")
	}
	shared := BuildOptions{}
	if opts != nil {
		shared = *opts
	}
	if len(multi.Commands) > 0 {
		merged := make(map[string]CommandSpec, len(multi.Commands)+len(shared.Commands))
		for k, v := range shared.Commands {
			merged[k] = v
		}
		for k, v := range multi.Commands {
			merged[k] = v
		}
		shared.Commands = merged
	}
	outputs, err := sharedTermini(multi, &shared)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*pipeline.Pipeline, len(multi.Pipelines))
	for _, name := range sortedKeys(multi.Pipelines) {
		cfg := multi.Pipelines[name]
		if cfg.Name == "" {
			cfg.Name = name
		}
		opts := shared
		if t, ok := outputs[name]; ok {
			opts.Terminus = t
		}
		p, err := BuildPipeline(reg, &cfg, &opts)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

// sharedTermini returns the terminus of each pipeline with an output, one per
// absolute directory.
func sharedTermini(multi *MultiPipelineConfig, opts *BuildOptions) (map[string]*fsio.DirectoryTerminus, error) {
	out := make(map[string]*fsio.DirectoryTerminus)
	if opts.Terminus != nil {
		return out, nil
	}
	byDir := make(map[string]*fsio.DirectoryTerminus)
	owner := make(map[string]string)
	for _, name := range sortedKeys(multi.Pipelines) {
		dir := multi.Pipelines[name].Output
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		if t, ok := byDir[abs]; ok {
			out[name] = t
			continue
		}
		for other, prev := range owner {
			if fsio.Within(other, abs) || fsio.Within(abs, other) {
				return nil, pipeline.ConfigErrorf("pipeline %q output %s overlaps pipeline %q output %s", name, abs, prev, other)
			}
		}
		t, err := fsio.NewDirectoryTerminus(abs, opts.logger())
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", name, err)
		}
		byDir[abs] = t
		owner[abs] = name
		out[name] = t
	}
	return out, nil
}

// BuildSequence builds a pipeline.Sequence from a sequence config by looking up the named pipelines
// in the built pipeline map. Each name in seq.Pipelines must exist in builtPipelines.
func BuildSequence(seq *SequenceConfig, builtPipelines map[string]*pipeline.Pipeline) (*pipeline.Sequence, error) {
	if seq == nil {
		return nil, fmt.Errorf("SequenceConfig is nil")
	}
	out := make([]*pipeline.Pipeline, 0, len(seq.Pipelines))
	for i, name := range seq.Pipelines {
		p, ok := builtPipelines[name]
		if !ok {
			return nil, fmt.Errorf("sequence %q pipeline %d: %q not in built pipelines", seq.Name, i, name)
		}
		out = append(out, p)
	}
	return &pipeline.Sequence{Name: seq.Name, Pipelines: out}, nil
}

// BuildAllSequences builds a pipeline.Sequence for each entry in multi.Sequences using the given built pipelines.
func BuildAllSequences(multi *MultiPipelineConfig, builtPipelines map[string]*pipeline.Pipeline) (map[string]*pipeline.Sequence, error) {
	if multi == nil || len(multi.Sequences) == 0 {
		return map[string]*pipeline.Sequence{}, nil
	}
	out := make(map[string]*pipeline.Sequence, len(multi.Sequences))
	for name, cfg := range multi.Sequences {
		if cfg.Name == "" {
			cfg.Name = name
		}
		seq, err := BuildSequence(&cfg, builtPipelines)
		if err != nil {
			return nil, fmt.Errorf("sequence %q: %w", name, err)
		}
		out[name] = seq
	}
	return out, nil
}
