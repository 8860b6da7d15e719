// Package config provides a segment registry and human-readable pipeline configuration.
//
// Register segments and sorters by name (RegisterBuiltins adds the stock image
// stages), then define pipelines in YAML that reference those names and
// optional modifiers (each, timeout, retry, checkpoint, branch):
//
//	name: upscale
//	source: {dir: textures, globs: ["**/*.png"]}
//	output: out
//	commands:
//	  potrace:
//	    args: [potrace, "{in}", -o, "{out}"]
//	    ext: .svg
//	stages:
//	  - split-alpha
//	  - name: scale-x2
//	    each: true
//	    checkpoint: {post: [x2.png, x2_alpha.png]}
//	  - name: merge-alpha
//	    checkpoint: {post: [merged.png]}
//	  - name: potrace
//	    timeout: 60s
//	    retry: {strategy: exponential, attempts: 3, backoff: 1s}
//	    checkpoint: {pre: [input.png], post: [traced.png]}
//
// Build a pipeline with BuildPipeline(registry, config, opts). Checkpoint blocks
// need BuildOptions.Checkpoints. Process settings (checkpoint root, log level,
// metrics address) come from TEXPIPE_* environment variables via LoadSettings.
package config
