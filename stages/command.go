package stages

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dcshock/texpipe/pipeline"
)

// CommandConfig describes an external program run once per object.
type CommandConfig struct {
	Name string
	// Args is the full argv. "{in}" is replaced by the input file path and
	// "{out}" by the path the program must write its result to.
	Args []string
	// Ext is the extension of the output file, ".png" when empty.
	Ext string
	// Codec decodes the produced file. Empty means the input's codec.
	Codec pipeline.Codec
	// Retryable marks failures whose stderr matches as retryable, for use
	// with pipeline.Retry and pipeline.IsRetryable.
	Retryable *regexp.Regexp
}

// Command returns a 1->1 runner around an external program. The input object
// must be backed by a file, which is what a pre-checkpoint guarantees. The
// program's output is read back into memory and its temp directory removed, so
// the returned object has no path until it is saved.
func Command(cfg CommandConfig) pipeline.Segment {
	name := cfg.Name
	if name == "" && len(cfg.Args) > 0 {
		name = filepath.Base(cfg.Args[0])
	}
	ext := cfg.Ext
	if ext == "" {
		ext = ".png"
	}
	return pipeline.Runner(name, pipeline.Arity{In: 1, Out: 1}, func(ctx context.Context, inputs []*pipeline.Object) ([]*pipeline.Object, error) {
		if len(cfg.Args) == 0 {
			return nil, pipeline.ConfigErrorf("command %s: no arguments", name)
		}
		in := inputs[0]
		if in.Path() == "" {
			return nil, pipeline.ConfigErrorf("command %s: input %s has no file; add a pre checkpoint", name, in.LocationName())
		}
		work, err := os.MkdirTemp("", "texpipe-"+name+"-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(work)
		outPath := filepath.Join(work, in.Name()+ext)

		argv := make([]string, len(cfg.Args))
		for i, a := range cfg.Args {
			a = strings.ReplaceAll(a, "{in}", in.Path())
			argv[i] = strings.ReplaceAll(a, "{out}", outPath)
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			err = fmt.Errorf("run %s: %w: %s", argv[0], err, msg)
			if cfg.Retryable != nil && cfg.Retryable.MatchString(msg) {
				err = pipeline.RetryableErr(err)
			}
			return nil, err
		}

		out, err := pipeline.NewObject(pipeline.ObjectSpec{
			Path:    outPath,
			Parents: []*pipeline.Object{in},
			Codec:   cfg.Codec,
		})
		if err != nil {
			return nil, err
		}
		if err := out.Detach(); err != nil {
			return nil, fmt.Errorf("read %s output: %w", argv[0], err)
		}
		return []*pipeline.Object{out}, nil
	})
}
