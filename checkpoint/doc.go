// Package checkpoint memoizes pipeline segments on disk.
//
// A Manager owns a checkpoint root. Checkpoint files live at
//
//	<root>/<location>/<name>/<checkpoint name>
//
// where location/name is the Object.LocationName of the object they belong to.
// The existence of that file is the only record that a stage already ran.
//
// Two wrappers are provided. A post-checkpoint wraps an expensive segment: on a
// call it first tries to load every output from the cache and skips the segment
// when all are present; otherwise it runs the segment and writes the outputs. A
// pre-checkpoint writes the inputs of a segment to stable paths before calling
// it, for segments that hand files to external programs.
//
//	m, _ := checkpoint.NewManager(".texpipe/checkpoints")
//	scale, _ := m.PostSegment([]string{"x2.png"})(stages.Scale(2))
//	merge, _ := m.PostSegment([]string{"merged.png"}, checkpoint.Name("x2.png"))(stages.MergeAlpha())
//
// Every Save, Load and Observe call records the (location name, checkpoint)
// pairs it touches. After a complete run, PurgeUnrecognizedFiles removes every
// file under the root that was not recorded, which reclaims checkpoints of
// objects or stages that no longer exist. The record is not persisted: a purge is
// only safe right after a full run with the same Manager.
//
// Files are written to a temporary name and renamed into place. Concurrent runs
// against one root are not coordinated.
package checkpoint
