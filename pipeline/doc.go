// Package pipeline provides the artifact model and the segment graph that
// processes it. An Object is a named, optionally file-backed artifact with a
// lazily loaded payload and a provenance list of parents. A Segment turns N
// objects into M objects; Processor, Merger, Splitter and Runner are the concrete
// kinds, and Chain, Each and Branch compose them.
//
// A Pipeline pulls objects from a Source one at a time and pushes each through its
// Segment depth-first before writing the results to a Terminus:
//
//	p := &pipeline.Pipeline{
//	    Name:     "upscale",
//	    Source:   src,
//	    Segment:  pipeline.Chain(split, pipeline.Each(scale), merge),
//	    Terminus: out,
//	}
//	stats, err := p.Run(ctx, &pipeline.RunOptions{Observer: obs})
//
// A failing object aborts only its own traversal. Run keeps going and returns
// every failure joined, together with RunStats.
//
// Wrappers are plain functions returning a new Segment: WithTimeout, Retry, and
// the checkpoint package's pre/post checkpoint decorators. Wrappers that touch
// checkpoints implement Checkpointed so enclosing wrappers can find the names of
// nested checkpoints.
//
// # Object naming
//
// Objects derived from parents inherit the first parent's name, location and
// codec, so every stage output for one source file shares the source's
// LocationName ("location/name"). Checkpoints and outputs are addressed by it.
//
// # Errors
//
// ErrConfiguration, ErrArity and ErrNotFound are the sentinel errors; ArityError
// and NotFoundError carry details and match them with errors.Is. I/O errors are
// wrapped and otherwise passed through; nothing is retried or rolled back unless
// a segment is wrapped with Retry.
package pipeline
