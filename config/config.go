package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig is the root structure for a pipeline definition (e.g. from YAML).
type PipelineConfig struct {
	Name   string        `yaml:"name"`
	Source *SourceConfig `yaml:"source"`
	// Output is the directory outputs are written to, keeping their location.
	Output string     `yaml:"output"`
	Stages []StageRef `yaml:"stages"`
	// Commands defines external-program stages usable by name in Stages.
	Commands map[string]CommandSpec `yaml:"commands"`
}

// SourceConfig selects the input files. In YAML it is either a directory or a mapping:
//
//	source: textures/
//	source:
//	  dir: textures/
//	  globs: ["**/*.png"]
//	  exclude: ['_old/']
type SourceConfig struct {
	Dir     string   `yaml:"dir"`
	Globs   []string `yaml:"globs"`
	Include []string `yaml:"include"` // regular expressions
	Exclude []string `yaml:"exclude"` // regular expressions, added to the default excludes
	Reverse bool     `yaml:"reverse"`
}

// UnmarshalYAML allows a source to be a plain directory string.
func (s *SourceConfig) UnmarshalYAML(value *yaml.Node) error {
	var dir string
	if err := value.Decode(&dir); err == nil {
		s.Dir = dir
		return nil
	}
	type raw SourceConfig
	return value.Decode((*raw)(s))
}

// StageRef is a single stage entry: either a plain name or name + options.
// In YAML, a stage can be written as:
//   - split-alpha
//   - name: scale-x2
//     each: true
//     checkpoint: {post: [x2.png, x2_alpha.png]}
//   - branch:
//     sorter: alpha
//     routes: {alpha: [...], opaque: [...]}
type StageRef struct {
	Name string `yaml:"name"`

	// Each applies the stage to every object of a bundle separately.
	Each bool `yaml:"each"`

	// Timeout bounds a single call of the stage (e.g. "60s").
	Timeout Duration `yaml:"timeout"`

	Retry      *RetryConfig      `yaml:"retry"`
	Checkpoint *CheckpointConfig `yaml:"checkpoint"`

	// Branch makes this stage a sorter-driven fork instead of a named segment.
	Branch *BranchConfig `yaml:"branch"`
}

// UnmarshalYAML allows a stage to be a string (stage name only) or a struct.
func (s *StageRef) UnmarshalYAML(value *yaml.Node) error {
	var nameOnly string
	if err := value.Decode(&nameOnly); err == nil {
		s.Name = nameOnly
		return nil
	}
	type raw StageRef
	return value.Decode((*raw)(s))
}

// Label names the stage in error messages.
func (s StageRef) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Branch != nil {
		return "branch(" + s.Branch.Sorter + ")"
	}
	return "<unnamed>"
}

// RetryConfig re-runs a failing stage in process. Written as a strategy name
// ("fixed", "exponential") or a mapping.
type RetryConfig struct {
	// Strategy: "fixed" | "exponential". Empty means fixed.
	Strategy string `yaml:"strategy"`
	// Attempts counts the first call; default 3.
	Attempts int `yaml:"attempts"`
	// Backoff is the first delay; default 1s.
	Backoff Duration `yaml:"backoff"`
	// Multiplier for exponential retry; default 2.
	Multiplier float64  `yaml:"multiplier"`
	Cap        Duration `yaml:"cap"`
	// OnlyRetryable restricts retries to errors marked pipeline.Retryable.
	OnlyRetryable bool `yaml:"only_retryable"`
}

// UnmarshalYAML allows retry to be a strategy name only.
func (r *RetryConfig) UnmarshalYAML(value *yaml.Node) error {
	var strategy string
	if err := value.Decode(&strategy); err == nil {
		r.Strategy = strategy
		return nil
	}
	type raw RetryConfig
	return value.Decode((*raw)(r))
}

// CheckpointConfig wraps a stage with pre and/or post checkpoints. Pre names one
// file per input, Post one file per output. Internal lists checkpoint names
// produced inside the stage that a cache hit should keep alive.
type CheckpointConfig struct {
	Pre      []string `yaml:"pre"`
	Post     []string `yaml:"post"`
	Internal []string `yaml:"internal"`
}

// BranchConfig routes each object to the stage list registered for the key
// the named sorter assigns. Objects with an unrouted key go to Fallback; with
// no fallback they fail.
type BranchConfig struct {
	Sorter   string                `yaml:"sorter"`
	Routes   map[string][]StageRef `yaml:"routes"`
	Fallback []StageRef            `yaml:"fallback"`
}

// CommandSpec defines an external program stage. Args use {in} and {out}
// placeholders for the input file and the file the program must produce.
type CommandSpec struct {
	Args []string `yaml:"args"`
	Ext  string   `yaml:"ext"`
	// Retryable is a regular expression over stderr marking transient failures.
	Retryable string `yaml:"retryable"`
}

// Duration is a time.Duration that unmarshals from YAML strings (e.g. "60s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// ParsePipelineConfig parses YAML bytes into a single PipelineConfig.
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MultiPipelineConfig is the root structure for a file that defines multiple pipelines.
// Top-level key is "pipelines"; each value is a pipeline. Commands are shared by
// all pipelines; a pipeline's own commands take precedence.
type MultiPipelineConfig struct {
	Pipelines map[string]PipelineConfig `yaml:"pipelines"`
	Sequences map[string]SequenceConfig `yaml:"sequences"`
	Commands  map[string]CommandSpec    `yaml:"commands"`
}

// SequenceConfig names pipelines to run in order under one run id.
type SequenceConfig struct {
	Name      string   `yaml:"name"`
	Pipelines []string `yaml:"pipelines"`
}

// ParseMultiPipelineConfig parses YAML bytes that contain a "pipelines" map from name to pipeline config.
// Example YAML:
//
//	pipelines:
//	  hud:
//	    source: textures/hud
//	    output: out/hud
//	    stages: [split-alpha, {name: scale-x2, each: true}, merge-alpha]
//	sequences:
//	  all:
//	    pipelines: [hud]
func ParseMultiPipelineConfig(data []byte) (*MultiPipelineConfig, error) {
	var cfg MultiPipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a pipeline file. A file without a top-level "pipelines" key is
// read as a single pipeline, named after the file when it has no name.
func LoadFile(path string) (*MultiPipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	multi, err := ParseMultiPipelineConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(multi.Pipelines) > 0 {
		return multi, nil
	}
	single, err := ParsePipelineConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if single.Name == "" {
		single.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &MultiPipelineConfig{Pipelines: map[string]PipelineConfig{single.Name: *single}}, nil
}
